// Copyright 2026 The assistGate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capability

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a minimal Provider for registry tests.
type fakeProvider struct {
	id        ProviderID
	available bool
	supports  map[ID]bool
}

func (p *fakeProvider) ID() ProviderID    { return p.id }
func (p *fakeProvider) IsAvailable() bool { return p.available }
func (p *fakeProvider) Supports(id ID) bool { return p.supports == nil || p.supports[id] }

func (p *fakeProvider) Execute(context.Context, ID, json.RawMessage, RequestContext) (json.RawMessage, Diagnostic, error) {
	return json.RawMessage(`{}`), Diagnostic{}, nil
}

func TestNewRegistry_DuplicateContract(t *testing.T) {
	_, err := NewRegistry([]*Contract{
		{ID: EstimateDuration},
		{ID: EstimateDuration},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate contract")
}

func TestNewRegistry_EmptyContractID(t *testing.T) {
	_, err := NewRegistry([]*Contract{{}}, nil)
	assert.Error(t, err)
}

func TestNewRegistry_DuplicateProvider(t *testing.T) {
	_, err := NewRegistry(nil, []Provider{
		&fakeProvider{id: ProviderOnDeviceModel, available: true},
		&fakeProvider{id: ProviderOnDeviceModel, available: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate provider")
}

func TestRegistry_ContractLookup(t *testing.T) {
	r, err := NewRegistry(BuiltinContracts(), nil)
	require.NoError(t, err)

	c := r.Contract(EstimateDuration)
	require.NotNil(t, c)
	assert.True(t, c.Realtime)
	assert.True(t, c.SupportsFallback)

	assert.Nil(t, r.Contract("no-such-capability"))
}

func TestRegistry_ContractsSorted(t *testing.T) {
	r, err := NewRegistry(BuiltinContracts(), nil)
	require.NoError(t, err)

	contracts := r.Contracts()
	require.Len(t, contracts, 8)
	for i := 1; i < len(contracts); i++ {
		assert.Less(t, contracts[i-1].ID, contracts[i].ID)
	}
}

func TestRankedProviders_PreferenceOrder(t *testing.T) {
	remote := &fakeProvider{id: ProviderUserRemote, available: true}
	local := &fakeProvider{id: ProviderOnDeviceModel, available: true}
	heuristic := &fakeProvider{id: ProviderBundledHeuristic, available: true}

	// Registration order deliberately disagrees with the preference list.
	r, err := NewRegistry(BuiltinContracts(), []Provider{remote, heuristic, local})
	require.NoError(t, err)

	ranked := r.RankedProviders(EstimateDuration)
	require.Len(t, ranked, 3)
	assert.Equal(t, ProviderOnDeviceModel, ranked[0].ID())
	assert.Equal(t, ProviderBundledHeuristic, ranked[1].ID())
	assert.Equal(t, ProviderUserRemote, ranked[2].ID())
}

func TestRankedProviders_FiltersUnavailableAndUnsupporting(t *testing.T) {
	down := &fakeProvider{id: ProviderOnDeviceModel, available: false}
	partial := &fakeProvider{
		id:        ProviderBundledHeuristic,
		available: true,
		supports:  map[ID]bool{EstimateDuration: true},
	}

	r, err := NewRegistry(BuiltinContracts(), []Provider{down, partial})
	require.NoError(t, err)

	ranked := r.RankedProviders(EstimateDuration)
	require.Len(t, ranked, 1)
	assert.Equal(t, ProviderBundledHeuristic, ranked[0].ID())

	assert.Empty(t, r.RankedProviders(DocumentIngest))
}

func TestRankedProviders_UnknownCapability(t *testing.T) {
	r, err := NewRegistry(BuiltinContracts(), nil)
	require.NoError(t, err)
	assert.Nil(t, r.RankedProviders("no-such-capability"))
}

func TestBuiltinContracts_InputValidation(t *testing.T) {
	r, err := NewRegistry(BuiltinContracts(), nil)
	require.NoError(t, err)

	est := r.Contract(EstimateDuration)
	assert.NoError(t, est.ValidateInput(json.RawMessage(`{"title":"reading","importance":0.5,"difficulty":0.5}`)))
	assert.Error(t, est.ValidateInput(json.RawMessage(`{"importance":0.5,"difficulty":0.5}`)))
	assert.Error(t, est.ValidateInput(json.RawMessage(`{"title":"reading","importance":1.5,"difficulty":0.5}`)))
	assert.Error(t, est.ValidateInput(json.RawMessage(`not json`)))

	ingest := r.Contract(DocumentIngest)
	assert.NoError(t, ingest.ValidateInput(json.RawMessage(`{"text":"syllabus"}`)))
	assert.Error(t, ingest.ValidateInput(json.RawMessage(`{"text":""}`)))
}

func TestBuiltinContracts_OutputValidation(t *testing.T) {
	r, err := NewRegistry(BuiltinContracts(), nil)
	require.NoError(t, err)

	est := r.Contract(EstimateDuration)
	assert.NoError(t, est.ValidateOutput(json.RawMessage(`{"min_minutes":10,"estimated_minutes":20,"max_minutes":30}`)))
	assert.Error(t, est.ValidateOutput(json.RawMessage(`{"estimated_minutes":20}`)))

	plan := r.Contract(StudyPlan)
	assert.NoError(t, plan.ValidateOutput(json.RawMessage(`{"sessions":[]}`)))
	assert.Error(t, plan.ValidateOutput(json.RawMessage(`{"sessions":"none"}`)))
}

func TestBuiltinContracts_FallbackFlags(t *testing.T) {
	for _, c := range BuiltinContracts() {
		switch c.ID {
		case DocumentIngest, EntityExtract:
			assert.False(t, c.SupportsFallback, "%s has no deterministic fallback", c.ID)
		default:
			assert.True(t, c.SupportsFallback, "%s should support fallback", c.ID)
		}
	}
}

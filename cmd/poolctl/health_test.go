package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterComponent("ledger", func() error { return nil })
	assert.Equal(t, Healthy, hc.CheckHealth().OverallStatus)

	hc.RegisterComponent("wallet", func() error { return errors.New("closed") })
	health := hc.CheckHealth()
	assert.Equal(t, Unhealthy, health.OverallStatus)
	require.Len(t, health.Components, 2)
	assert.Equal(t, "ledger", health.Components[0].Name)
	assert.Equal(t, "closed", health.Components[1].Message)
}

func TestHealthHandler(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterComponent("wallet", func() error { return errors.New("closed") })

	rec := httptest.NewRecorder()
	hc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body SystemHealth
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, Unhealthy, body.OverallStatus)
}

func TestLoadKeypair(t *testing.T) {
	_, err := loadKeypair(nil, "zz")
	assert.Error(t, err)
	_, err = loadKeypair(nil, "0x1234")
	assert.Error(t, err)
}

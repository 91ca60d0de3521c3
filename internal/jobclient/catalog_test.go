package jobclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/lotuswatch/internal/jobservicetest"
)

func TestListResults_Pagination(t *testing.T) {
	srv := jobservicetest.New()
	defer srv.Close()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		srv.AddResult(jobservicetest.SampleResult(id, "example.com", base.Add(time.Duration(i)*time.Hour), "high", "info"))
	}
	c := newTestClient(t, srv.URL(), Options{})

	page, err := c.ListResults(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "r3", page.Results[0].ID)
	assert.Equal(t, 4, page.TotalFindings())

	page, err = c.ListResults(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "r1", page.Results[0].ID)

	page, err = c.ListResults(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, page.Limit)
}

func TestGetResult(t *testing.T) {
	srv := jobservicetest.New()
	defer srv.Close()
	srv.AddResult(jobservicetest.SampleResult("r1", "example.com", time.Now(), "critical"))
	c := newTestClient(t, srv.URL(), Options{})

	res, err := c.GetResult(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "critical", res.Findings[0].Severity)

	_, err = c.GetResult(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogListings(t *testing.T) {
	srv := jobservicetest.New()
	defer srv.Close()
	c := newTestClient(t, srv.URL(), Options{})
	ctx := context.Background()

	scripts, err := c.ListScripts(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, scripts)

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tools)

	secrets, err := c.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, secrets.TotalConfigured)
	assert.Len(t, secrets.Secrets, 2)
}

func TestCheckCompatibility(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		min     string
		wantErr error
		anyErr  bool
	}{
		{name: "equal", backend: "0.1.0", min: "0.1.0"},
		{name: "newer", backend: "1.2.3", min: "0.1.0"},
		{name: "no minimum", backend: "garbage", min: ""},
		{name: "older", backend: "0.0.9", min: "0.1.0", wantErr: ErrIncompatibleBackend},
		{name: "unparsable", backend: "dev", min: "0.1.0", wantErr: ErrIncompatibleBackend},
		{name: "bad minimum", backend: "0.1.0", min: "not-a-version", anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := jobservicetest.New()
			defer srv.Close()
			srv.SetVersion(tt.backend)
			c := newTestClient(t, srv.URL(), Options{})

			h, err := c.CheckCompatibility(context.Background(), tt.min)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.backend, h.Version)
			}
		})
	}
}

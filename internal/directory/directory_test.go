package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/sugarrush/internal/directory/config"
	"github.com/iurnickita/sugarrush/internal/model"
)

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	var edits []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/members/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "cook":
			w.Write([]byte(`{"id":"cook","roles":["senior_preparer"],"exempt":true}`))
		case "boss":
			w.Write([]byte(`{"id":"boss","roles":["manager","fulfiller"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("GET /api/roles/{role}/members", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("role") != "preparer" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"members":["a","b"]}`))
	})
	mux.HandleFunc("/api/members/{id}/roles/{role}", func(w http.ResponseWriter, r *http.Request) {
		edits = append(edits, r.Method+" "+r.PathValue("id")+" "+r.PathValue("role"))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &edits
}

func TestClient(t *testing.T) {
	srv, edits := newTestServer(t)
	client := NewClient(config.Config{URL: srv.URL, OwnerID: "root"})
	ctx := context.Background()

	caps, err := client.ResolveCapabilities(ctx, "cook")
	require.NoError(t, err)
	assert.Equal(t, model.Capabilities{Preparer: true}, caps)

	caps, err = client.ResolveCapabilities(ctx, "boss")
	require.NoError(t, err)
	assert.True(t, caps.CanManage())
	assert.True(t, caps.CanFulfill())
	assert.False(t, caps.CanPrepare())

	caps, err = client.ResolveCapabilities(ctx, "stranger")
	require.NoError(t, err)
	assert.False(t, caps.Staff())

	caps, err = client.ResolveCapabilities(ctx, "root")
	require.NoError(t, err)
	assert.True(t, caps.Owner)

	exempt, err := client.IsExempt(ctx, "cook")
	require.NoError(t, err)
	assert.True(t, exempt)

	holders, err := client.ListRoleHolders(ctx, model.RolePreparer)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, holders)

	_, err = client.ListRoleHolders(ctx, model.RoleFulfiller)
	require.Error(t, err)

	require.NoError(t, client.RevokeRole(ctx, "b", model.RolePreparer))
	require.NoError(t, client.GrantRole(ctx, "b", model.RoleFulfiller))
	assert.Equal(t, []string{"DELETE b preparer", "PUT b fulfiller"}, *edits)
}

func TestStatic(t *testing.T) {
	dir := NewStatic("root")
	ctx := context.Background()

	require.NoError(t, dir.GrantRole(ctx, "b", model.RolePreparer))
	require.NoError(t, dir.GrantRole(ctx, "a", model.RolePreparer))
	require.NoError(t, dir.GrantRole(ctx, "a", model.RoleSeniorPreparer))
	dir.SetExempt("a", true)

	holders, err := dir.ListRoleHolders(ctx, model.RolePreparer)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, holders)

	require.NoError(t, dir.RevokeRole(ctx, "b", model.RolePreparer))
	caps, err := dir.ResolveCapabilities(ctx, "b")
	require.NoError(t, err)
	assert.False(t, caps.CanPrepare())

	exempt, err := dir.IsExempt(ctx, "a")
	require.NoError(t, err)
	assert.True(t, exempt)

	caps, err = dir.ResolveCapabilities(ctx, "root")
	require.NoError(t, err)
	assert.True(t, caps.CanManage())
}

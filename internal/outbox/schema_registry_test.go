package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaRegistryReturnsLatestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/subjects/visit_events-visit.started/versions/latest", r.URL.Path)
		_, _ = w.Write([]byte(`{"id": 17}`))
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "visit_events-visit.started", visitStartedSchema)
	require.NoError(t, err)
	require.Equal(t, 17, id)
}

func TestSchemaRegistryRegistersMissingSubject(t *testing.T) {
	var registered map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		require.Equal(t, "/subjects/care_events-incident.reported/versions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
		_, _ = w.Write([]byte(`{"id": 3}`))
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "care_events-incident.reported", incidentReportedSchema)
	require.NoError(t, err)
	require.Equal(t, 3, id)
	require.Equal(t, "JSON", registered["schemaType"])
	require.Equal(t, incidentReportedSchema, registered["schema"])
}

func TestSchemaRegistrySurfacesRegisterErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`incompatible schema`))
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "s", "{}")
	require.ErrorContains(t, err, "incompatible schema")
}

func TestSchemaRegistryDoesNotRegisterOnLookupFailure(t *testing.T) {
	posts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`backend unavailable`))
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL+"/").EnsureSchema(context.Background(), "visit_events-visit.started", visitStartedSchema)
	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	require.Equal(t, "lookup", regErr.Op)
	require.Equal(t, http.StatusInternalServerError, regErr.Status)
	require.Zero(t, posts)
}

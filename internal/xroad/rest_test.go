package xroad

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

const listServicesResponse = `{
  "member_class": "GOV",
  "member_code": "100",
  "service": [
    {
      "member_class": "GOV",
      "member_code": "100",
      "service_code": "petstore",
      "subsystem_code": "SUB",
      "xroad_instance": "DEV"
    },
    {
      "member_class": "GOV",
      "member_code": "100",
      "service_code": "another",
      "subsystem_code": "SUB",
      "xroad_instance": "DEV"
    }
  ],
  "subsystem_code": "SUB",
  "xroad_instance": "DEV"
}`

func TestListServices(t *testing.T) {
	t.Parallel()

	var gotPath, gotClientHeader string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotClientHeader = r.Header.Get("X-Road-Client")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(listServicesResponse))
	}))

	services, err := client.ListServices(context.Background(), testProducer())
	require.NoError(t, err)

	assert.Equal(t, "/r1/DEV/GOV/100/SUB/listMethods", gotPath)
	assert.Equal(t, "DEV/COM/999/CATALOGUE", gotClientHeader)

	require.Len(t, services, 2)
	assert.Equal(t, "another", services[0].ServiceCode)
	assert.Equal(t, "petstore", services[1].ServiceCode)
	assert.Equal(t, testProducer(), services[0].SubsystemID)
}

func TestListServicesHTTPError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Unknown member"}`, http.StatusInternalServerError)
	}))

	_, err := client.ListServices(context.Background(), testProducer())
	require.Error(t, err)
	assert.True(t, apperrors.IsProtocol(err))
}

func TestFetchOpenAPI(t *testing.T) {
	t.Parallel()

	const doc = `{"openapi":"3.0.0","paths":{}}`
	var gotQuery string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	}))

	service := ServiceID{SubsystemID: testProducer(), ServiceCode: "petstore"}
	fetched, err := client.FetchOpenAPI(context.Background(), service)
	require.NoError(t, err)
	assert.Equal(t, doc, fetched)
	assert.Equal(t, "serviceCode=petstore", gotQuery)
}

func TestFetchOpenAPIPlainRESTService(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"Invalid service type: REST"}`))
	}))

	service := ServiceID{SubsystemID: testProducer(), ServiceCode: "plain"}
	_, err := client.FetchOpenAPI(context.Background(), service)
	require.ErrorIs(t, err, ErrNotOpenAPIService)
}

func TestFetchOpenAPIReadFailure(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"Failed reading service description from http://producer/openapi.yaml"}`))
	}))

	service := ServiceID{SubsystemID: testProducer(), ServiceCode: "broken"}
	_, err := client.FetchOpenAPI(context.Background(), service)
	require.ErrorIs(t, err, ErrOpenAPIRead)
	assert.True(t, apperrors.IsProtocol(err))
}

package xroad

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

func testProducer() SubsystemID {
	return SubsystemID{
		MemberID:      MemberID{Instance: "DEV", MemberClass: "GOV", MemberCode: "100"},
		SubsystemCode: "SUB",
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		ServerURL: server.URL,
		Identity:  ClientID{Instance: "DEV", MemberClass: "COM", MemberCode: "999", SubsystemCode: "CATALOGUE"},
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err)

	return client, server
}

const listMethodsResponse = `<?xml version="1.0" encoding="utf-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/" xmlns:xroad="http://x-road.eu/xsd/xroad.xsd" xmlns:id="http://x-road.eu/xsd/identifiers">
  <SOAP-ENV:Body>
    <xroad:listMethodsResponse>
      <xroad:service id:objectType="SERVICE">
        <id:xRoadInstance>DEV</id:xRoadInstance>
        <id:memberClass>GOV</id:memberClass>
        <id:memberCode>100</id:memberCode>
        <id:subsystemCode>SUB</id:subsystemCode>
        <id:serviceCode>bMethod</id:serviceCode>
        <id:serviceVersion>v1</id:serviceVersion>
      </xroad:service>
      <xroad:service id:objectType="SERVICE">
        <id:xRoadInstance>DEV</id:xRoadInstance>
        <id:memberClass>GOV</id:memberClass>
        <id:memberCode>100</id:memberCode>
        <id:subsystemCode>SUB</id:subsystemCode>
        <id:serviceCode>aMethod</id:serviceCode>
      </xroad:service>
    </xroad:listMethodsResponse>
  </SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

const soapFaultResponse = `<?xml version="1.0" encoding="utf-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
  <SOAP-ENV:Body>
    <SOAP-ENV:Fault>
      <faultcode>Server.ClientProxy</faultcode>
      <faultstring>Client not found</faultstring>
    </SOAP-ENV:Fault>
  </SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

func TestListMethodsSortsResults(t *testing.T) {
	t.Parallel()

	var requestBody []byte
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(listMethodsResponse))
	}))

	methods, err := client.ListMethods(context.Background(), testProducer())
	require.NoError(t, err)

	require.Len(t, methods, 2)
	assert.Equal(t, "aMethod", methods[0].ServiceCode)
	assert.Equal(t, "", methods[0].ServiceVersion)
	assert.Equal(t, "bMethod", methods[1].ServiceCode)
	assert.Equal(t, "v1", methods[1].ServiceVersion)

	// The rendered request carries the subsystem-level client header.
	body := string(requestBody)
	assert.Contains(t, body, `id:objectType="SUBSYSTEM"`)
	assert.Contains(t, body, "<id:subsystemCode>CATALOGUE</id:subsystemCode>")
	assert.Contains(t, body, "<xroad:listMethods/>")
	assert.Contains(t, body, "<xroad:protocolVersion>4.0</xroad:protocolVersion>")
}

func TestListMethodsMemberLevelClient(t *testing.T) {
	t.Parallel()

	var requestBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(listMethodsResponse))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		ServerURL: server.URL,
		Identity:  ClientID{Instance: "DEV", MemberClass: "COM", MemberCode: "999"},
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err)

	_, err = client.ListMethods(context.Background(), testProducer())
	require.NoError(t, err)

	body := string(requestBody)
	assert.Contains(t, body, `id:objectType="MEMBER"`)
	assert.NotContains(t, body, "<id:subsystemCode>CATALOGUE</id:subsystemCode>")
}

func TestListMethodsFault(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(soapFaultResponse))
	}))

	_, err := client.ListMethods(context.Background(), testProducer())
	require.Error(t, err)
	assert.True(t, apperrors.IsProtocol(err))
	assert.Contains(t, err.Error(), "Client not found")
}

func TestListMethodsTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		ServerURL: server.URL,
		Identity:  ClientID{Instance: "DEV", MemberClass: "COM", MemberCode: "999", SubsystemCode: "CATALOGUE"},
		Timeout:   50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = client.ListMethods(context.Background(), testProducer())
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeout(err))
}

const wsdlDocument = `<definitions xmlns="http://schemas.xmlsoap.org/wsdl/">
  <binding name="testBinding" type="tns:testPort">
    <operation name="testService">
      <version xmlns="http://x-road.eu/xsd/xroad.xsd">v1</version>
    </operation>
  </binding>
</definitions>`

func multipartWSDLResponse(t *testing.T, envelope, wsdl string) (string, []byte) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": []string{"text/xml"}})
	require.NoError(t, err)
	_, err = part.Write([]byte(envelope))
	require.NoError(t, err)

	part, err = writer.CreatePart(textproto.MIMEHeader{"Content-Type": []string{"text/xml"}})
	require.NoError(t, err)
	_, err = part.Write([]byte(wsdl))
	require.NoError(t, err)

	require.NoError(t, writer.Close())
	return "multipart/related; boundary=" + writer.Boundary(), buf.Bytes()
}

const getWsdlEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
  <SOAP-ENV:Body>
    <getWsdlResponse/>
  </SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

func TestFetchWSDLMultipart(t *testing.T) {
	t.Parallel()

	contentType, body := multipartWSDLResponse(t, getWsdlEnvelope, wsdlDocument)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))

	method := MethodID{SubsystemID: testProducer(), ServiceCode: "testService", ServiceVersion: "v1"}
	wsdl, err := client.FetchWSDL(context.Background(), method)
	require.NoError(t, err)
	assert.Equal(t, wsdlDocument, wsdl)
}

func TestFetchWSDLMultipartFault(t *testing.T) {
	t.Parallel()

	contentType, body := multipartWSDLResponse(t, soapFaultResponse, "")
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))

	method := MethodID{SubsystemID: testProducer(), ServiceCode: "testService"}
	_, err := client.FetchWSDL(context.Background(), method)
	require.Error(t, err)
	assert.True(t, apperrors.IsProtocol(err))
	assert.Contains(t, err.Error(), "Client not found")
}

func TestFetchWSDLPlainFault(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(soapFaultResponse))
	}))

	method := MethodID{SubsystemID: testProducer(), ServiceCode: "testService"}
	_, err := client.FetchWSDL(context.Background(), method)
	require.Error(t, err)
	assert.True(t, apperrors.IsProtocol(err))
}

func TestFetchWSDLPlainResponseWithoutWSDL(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(getWsdlEnvelope))
	}))

	method := MethodID{SubsystemID: testProducer(), ServiceCode: "testService"}
	_, err := client.FetchWSDL(context.Background(), method)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WSDL not found")
}

func TestFetchWSDLOmitsEmptyServiceVersion(t *testing.T) {
	t.Parallel()

	var requestBody []byte
	contentType, body := multipartWSDLResponse(t, getWsdlEnvelope, wsdlDocument)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))

	method := MethodID{SubsystemID: testProducer(), ServiceCode: "testService"}
	_, err := client.FetchWSDL(context.Background(), method)
	require.NoError(t, err)
	assert.Contains(t, string(requestBody), "<xroad:serviceCode>testService</xroad:serviceCode>")
	assert.NotContains(t, string(requestBody), "serviceVersion")
}

package xroad

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/google/uuid"

	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

const getWsdlServiceCode = "getWsdl"

// soapRequest carries the values rendered into an envelope template.
type soapRequest struct {
	Client      ClientID
	Service     SubsystemID
	ServiceCode string
	ID          string
	Body        string
}

var envelopeTmpl = template.Must(template.New("envelope").Parse(`<?xml version="1.0" encoding="utf-8"?>
<SOAP-ENV:Envelope
        xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/"
        xmlns:xroad="http://x-road.eu/xsd/xroad.xsd"
        xmlns:id="http://x-road.eu/xsd/identifiers">
    <SOAP-ENV:Header>
{{- if .Client.IsMember}}
        <xroad:client id:objectType="MEMBER">
            <id:xRoadInstance>{{.Client.Instance}}</id:xRoadInstance>
            <id:memberClass>{{.Client.MemberClass}}</id:memberClass>
            <id:memberCode>{{.Client.MemberCode}}</id:memberCode>
        </xroad:client>
{{- else}}
        <xroad:client id:objectType="SUBSYSTEM">
            <id:xRoadInstance>{{.Client.Instance}}</id:xRoadInstance>
            <id:memberClass>{{.Client.MemberClass}}</id:memberClass>
            <id:memberCode>{{.Client.MemberCode}}</id:memberCode>
            <id:subsystemCode>{{.Client.SubsystemCode}}</id:subsystemCode>
        </xroad:client>
{{- end}}
        <xroad:service id:objectType="SERVICE">
            <id:xRoadInstance>{{.Service.Instance}}</id:xRoadInstance>
            <id:memberClass>{{.Service.MemberClass}}</id:memberClass>
            <id:memberCode>{{.Service.MemberCode}}</id:memberCode>
            <id:subsystemCode>{{.Service.SubsystemCode}}</id:subsystemCode>
            <id:serviceCode>{{.ServiceCode}}</id:serviceCode>
        </xroad:service>
        <xroad:id>{{.ID}}</xroad:id>
        <xroad:protocolVersion>4.0</xroad:protocolVersion>
    </SOAP-ENV:Header>
    <SOAP-ENV:Body>
{{.Body}}
    </SOAP-ENV:Body>
</SOAP-ENV:Envelope>
`))

var getWsdlBodyTmpl = template.Must(template.New("getWsdl").Parse(`        <xroad:getWsdl>
            <xroad:serviceCode>{{.ServiceCode}}</xroad:serviceCode>
{{- if .ServiceVersion}}
            <xroad:serviceVersion>{{.ServiceVersion}}</xroad:serviceVersion>
{{- end}}
        </xroad:getWsdl>`))

// Some servers wrap the envelope in a multipart message; the envelope is
// extracted by pattern before XML decoding.
var envelopeRegex = regexp.MustCompile(`(?s)<SOAP-ENV:Envelope.+</SOAP-ENV:Envelope>`)

type soapEnvelope struct {
	Body struct {
		Fault *struct {
			FaultString string `xml:"faultstring"`
		} `xml:"Fault"`
		ListMethodsResponse *struct {
			Services []soapServiceID `xml:"service"`
		} `xml:"listMethodsResponse"`
	} `xml:"Body"`
}

type soapServiceID struct {
	XRoadInstance  string `xml:"xRoadInstance"`
	MemberClass    string `xml:"memberClass"`
	MemberCode     string `xml:"memberCode"`
	SubsystemCode  string `xml:"subsystemCode"`
	ServiceCode    string `xml:"serviceCode"`
	ServiceVersion string `xml:"serviceVersion"`
}

func (c *Client) renderEnvelope(producer SubsystemID, serviceCode, body string) (string, error) {
	var rendered bytes.Buffer
	err := envelopeTmpl.Execute(&rendered, soapRequest{
		Client:      c.identity,
		Service:     producer,
		ServiceCode: serviceCode,
		ID:          uuid.NewString(),
		Body:        body,
	})
	if err != nil {
		return "", err
	}
	return rendered.String(), nil
}

// ListMethods issues a SOAP listMethods query against the producer
// subsystem and returns the discovered methods sorted by identity.
func (c *Client) ListMethods(ctx context.Context, producer SubsystemID) ([]MethodID, error) {
	body := "        <xroad:listMethods/>"
	envelope, err := c.renderEnvelope(producer, "listMethods", body)
	if err != nil {
		return nil, apperrors.NewProtocolError("listMethods", "cannot render request", err)
	}

	data, _, err := c.post(ctx, c.Endpoint(), "text/xml", []byte(envelope))
	if err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			return nil, apperrors.NewProtocolError("listMethods", statusErr.Error(), statusErr)
		}
		return nil, err
	}

	parsed, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if parsed.Body.Fault != nil {
		return nil, apperrors.NewProtocolError("listMethods", parsed.Body.Fault.FaultString, nil)
	}
	if parsed.Body.ListMethodsResponse == nil {
		return nil, apperrors.NewParseError("listMethods", fmt.Errorf("response contains no listMethodsResponse element"))
	}

	methods := make([]MethodID, 0, len(parsed.Body.ListMethodsResponse.Services))
	for _, svc := range parsed.Body.ListMethodsResponse.Services {
		methods = append(methods, MethodID{
			SubsystemID: SubsystemID{
				MemberID: MemberID{
					Instance:    svc.XRoadInstance,
					MemberClass: svc.MemberClass,
					MemberCode:  svc.MemberCode,
				},
				// The subsystemCode element may be missing.
				SubsystemCode: svc.SubsystemCode,
			},
			ServiceCode: svc.ServiceCode,
			// The serviceVersion element may be missing.
			ServiceVersion: svc.ServiceVersion,
		})
	}

	sort.Slice(methods, func(i, j int) bool {
		return strings.Join(methods[i].parts(), "/") < strings.Join(methods[j].parts(), "/")
	})

	return methods, nil
}

// FetchWSDL issues a getWsdl query for the method and returns the raw WSDL
// text. The response is a multipart message: the first part is a SOAP
// envelope (inspected for a fault), the second carries the document.
func (c *Client) FetchWSDL(ctx context.Context, method MethodID) (string, error) {
	var body bytes.Buffer
	if err := getWsdlBodyTmpl.Execute(&body, method); err != nil {
		return "", apperrors.NewProtocolError("getWsdl", "cannot render request", err)
	}

	envelope, err := c.renderEnvelope(method.SubsystemID, getWsdlServiceCode, body.String())
	if err != nil {
		return "", apperrors.NewProtocolError("getWsdl", "cannot render request", err)
	}

	data, contentType, err := c.post(ctx, c.Endpoint(), "text/xml", []byte(envelope))
	if err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			return "", apperrors.NewProtocolError("getWsdl", statusErr.Error(), statusErr)
		}
		return "", err
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		return wsdlFromMultipart(data, params["boundary"])
	}

	// Plain response: only a fault can explain a non-multipart reply.
	parsed, err := decodeEnvelope(data)
	if err != nil {
		return "", err
	}
	if parsed.Body.Fault != nil {
		return "", apperrors.NewProtocolError("getWsdl", parsed.Body.Fault.FaultString, nil)
	}
	return "", apperrors.NewParseError("getWsdl", fmt.Errorf("WSDL not found in response"))
}

func wsdlFromMultipart(data []byte, boundary string) (string, error) {
	if boundary == "" {
		return "", apperrors.NewParseError("getWsdl", fmt.Errorf("multipart response without boundary"))
	}

	reader := multipart.NewReader(bytes.NewReader(data), boundary)
	var parts [][]byte
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		content := new(bytes.Buffer)
		if _, err := content.ReadFrom(part); err != nil {
			return "", apperrors.NewParseError("getWsdl", err)
		}
		parts = append(parts, content.Bytes())
	}

	if len(parts) == 0 {
		return "", apperrors.NewParseError("getWsdl", fmt.Errorf("empty multipart response"))
	}

	// First part is the SOAP envelope; a fault there replaces the WSDL.
	parsed, err := decodeEnvelope(parts[0])
	if err == nil && parsed.Body.Fault != nil {
		return "", apperrors.NewProtocolError("getWsdl", parsed.Body.Fault.FaultString, nil)
	}
	if len(parts) < 2 {
		return "", apperrors.NewParseError("getWsdl", fmt.Errorf("multipart response carries no WSDL part"))
	}
	return string(parts[1]), nil
}

func decodeEnvelope(data []byte) (*soapEnvelope, error) {
	match := envelopeRegex.Find(data)
	if match == nil {
		return nil, apperrors.NewParseError("soap", fmt.Errorf("response contains no SOAP envelope"))
	}
	var parsed soapEnvelope
	if err := xml.Unmarshal(match, &parsed); err != nil {
		return nil, apperrors.NewParseError("soap", err)
	}
	return &parsed, nil
}

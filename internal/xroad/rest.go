package xroad

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

// ErrNotOpenAPIService marks a REST service that exists but publishes no
// OpenAPI description. The catalogue records such services as OK with no
// artifact.
var ErrNotOpenAPIService = errors.New("service does not have an OpenAPI description")

// ErrOpenAPIRead marks a producer-side failure to read the description.
var ErrOpenAPIRead = errors.New("producer failed reading the OpenAPI description")

type restServiceList struct {
	Services []restServiceID `json:"service"`
}

type restServiceID struct {
	XRoadInstance string `json:"xroad_instance"`
	MemberClass   string `json:"member_class"`
	MemberCode    string `json:"member_code"`
	SubsystemCode string `json:"subsystem_code"`
	ServiceCode   string `json:"service_code"`
}

type restErrorDoc struct {
	Message string `json:"message"`
}

func (c *Client) restHeader() http.Header {
	header := make(http.Header)
	header.Set("X-Road-Client", c.identity.String())
	header.Set("Accept", "application/json")
	return header
}

// ListServices issues a REST listMethods query against the producer
// subsystem and returns the discovered services sorted by identity.
func (c *Client) ListServices(ctx context.Context, producer SubsystemID) ([]ServiceID, error) {
	target := c.resolve(restVersion, producer.String(), "listMethods")
	data, err := c.get(ctx, target, c.restHeader())
	if err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			return nil, apperrors.NewProtocolError("listMethods", statusErr.Error(), statusErr)
		}
		return nil, err
	}

	var list restServiceList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, apperrors.NewParseError("listMethods", err)
	}

	services := make([]ServiceID, 0, len(list.Services))
	for _, svc := range list.Services {
		services = append(services, ServiceID{
			SubsystemID: SubsystemID{
				MemberID: MemberID{
					Instance:    svc.XRoadInstance,
					MemberClass: svc.MemberClass,
					MemberCode:  svc.MemberCode,
				},
				SubsystemCode: svc.SubsystemCode,
			},
			ServiceCode: svc.ServiceCode,
		})
	}

	sort.Slice(services, func(i, j int) bool {
		return strings.Join(services[i].parts(), "/") < strings.Join(services[j].parts(), "/")
	})

	return services, nil
}

// FetchOpenAPI issues a getOpenAPI query for the service and returns the
// raw description text. Services without a description are reported via
// ErrNotOpenAPIService; producer read failures via ErrOpenAPIRead.
func (c *Client) FetchOpenAPI(ctx context.Context, service ServiceID) (string, error) {
	target := c.resolve(restVersion, service.SubsystemID.String(), "getOpenAPI") +
		"?serviceCode=" + EncodePart(service.ServiceCode)
	data, err := c.get(ctx, target, c.restHeader())
	if err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			return "", classifyOpenAPIFault(statusErr)
		}
		return "", err
	}
	return string(data), nil
}

// classifyOpenAPIFault inspects the registry's error document to separate
// "this is a plain REST service" from a genuine failure.
func classifyOpenAPIFault(statusErr *httpStatusError) error {
	var doc restErrorDoc
	if err := json.Unmarshal(statusErr.body, &doc); err == nil {
		switch {
		case doc.Message == "Invalid service type: REST":
			return ErrNotOpenAPIService
		case strings.HasPrefix(doc.Message, "Failed reading service description from"):
			return apperrors.NewProtocolError("getOpenAPI", doc.Message, ErrOpenAPIRead)
		case doc.Message != "":
			return apperrors.NewProtocolError("getOpenAPI", doc.Message, statusErr)
		}
	}
	return apperrors.NewProtocolError("getOpenAPI", statusErr.Error(), statusErr)
}

package xroad

import (
	"encoding/xml"

	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

// wsdlBindings mirrors the binding/operation structure of a WSDL document.
// Matching is by local element name; the registry's documents carry the
// operations under wsdl:binding/wsdl:operation with an optional
// xrd:version child.
type wsdlBindings struct {
	Bindings []struct {
		Operations []struct {
			Name    string `xml:"name,attr"`
			Version string `xml:"version"`
		} `xml:"operation"`
	} `xml:"binding"`
}

// WSDLMethod is one operation advertised by a WSDL binding.
type WSDLMethod struct {
	ServiceCode    string
	ServiceVersion string
}

// WSDLMethods lists the operations defined in a WSDL document. One fetched
// WSDL routinely describes several methods of the same subsystem.
func WSDLMethods(wsdlText string) ([]WSDLMethod, error) {
	var doc wsdlBindings
	if err := xml.Unmarshal([]byte(wsdlText), &doc); err != nil {
		return nil, apperrors.NewParseError("wsdl", err)
	}

	var methods []WSDLMethod
	for _, binding := range doc.Bindings {
		for _, operation := range binding.Operations {
			if operation.Name == "" {
				continue
			}
			methods = append(methods, WSDLMethod{
				ServiceCode:    operation.Name,
				ServiceVersion: operation.Version,
			})
		}
	}
	return methods, nil
}

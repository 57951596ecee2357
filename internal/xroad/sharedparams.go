package xroad

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

// sharedParams mirrors the parts of shared-params.xml the collector needs:
// member/subsystem identities and security server client registrations.
type sharedParams struct {
	InstanceIdentifier string              `xml:"instanceIdentifier"`
	Members            []sharedParamMember `xml:"member"`
	SecurityServers    []sharedParamServer `xml:"securityServer"`
}

type sharedParamMember struct {
	ID          string `xml:"id,attr"`
	MemberClass struct {
		Code string `xml:"code"`
	} `xml:"memberClass"`
	MemberCode string                 `xml:"memberCode"`
	Name       string                 `xml:"name"`
	Subsystems []sharedParamSubsystem `xml:"subsystem"`
}

type sharedParamSubsystem struct {
	ID            string `xml:"id,attr"`
	SubsystemCode string `xml:"subsystemCode"`
}

type sharedParamServer struct {
	Owner      string   `xml:"owner"`
	ServerCode string   `xml:"serverCode"`
	Address    string   `xml:"address"`
	Clients    []string `xml:"client"`
}

// ListSubsystems downloads the global configuration from the security
// server and returns the subsystems registered on at least one security
// server, sorted by identity. When instance is empty the server's local
// instance is used. A failure here is fatal for a collection run: without
// the directory there is nothing to collect.
func (c *Client) ListSubsystems(ctx context.Context, instance string) ([]SubsystemID, error) {
	target := c.resolve("verificationconf")
	data, err := c.get(ctx, target, nil)
	if err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			return nil, apperrors.NewProtocolError("verificationconf", statusErr.Error(), statusErr)
		}
		return nil, err
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperrors.NewParseError("verificationconf", err)
	}

	if instance == "" {
		ident, err := readZipFile(reader, "verificationconf/instance-identifier")
		if err != nil {
			return nil, apperrors.NewParseError("verificationconf", err)
		}
		instance = strings.TrimSpace(string(ident))
	}

	paramsXML, err := readZipFile(reader, fmt.Sprintf("verificationconf/%s/shared-params.xml", instance))
	if err != nil {
		return nil, apperrors.NewParseError("verificationconf", err)
	}

	return registeredSubsystems(paramsXML)
}

// registeredSubsystems parses shared-params.xml and keeps only subsystems
// attached to a security server.
func registeredSubsystems(paramsXML []byte) ([]SubsystemID, error) {
	var params sharedParams
	if err := xml.Unmarshal(paramsXML, &params); err != nil {
		return nil, apperrors.NewParseError("shared-params.xml", err)
	}

	registered := make(map[string]struct{})
	for _, server := range params.SecurityServers {
		for _, client := range server.Clients {
			registered[strings.TrimSpace(client)] = struct{}{}
		}
	}

	var subsystems []SubsystemID
	for _, member := range params.Members {
		for _, subsystem := range member.Subsystems {
			if _, ok := registered[subsystem.ID]; !ok {
				continue
			}
			subsystems = append(subsystems, SubsystemID{
				MemberID: MemberID{
					Instance:    params.InstanceIdentifier,
					MemberClass: member.MemberClass.Code,
					MemberCode:  member.MemberCode,
				},
				SubsystemCode: subsystem.SubsystemCode,
			})
		}
	}

	sort.Slice(subsystems, func(i, j int) bool {
		return subsystems[i].Less(subsystems[j])
	})

	return subsystems, nil
}

func readZipFile(reader *zip.Reader, name string) ([]byte, error) {
	file, err := reader.Open(name)
	if err != nil {
		return nil, fmt.Errorf("missing %s: %w", name, err)
	}
	defer file.Close()
	return io.ReadAll(file)
}

package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/kysee/zk-accounting/types"
)

// Prover turns a verified program input and its public values into a proof
// blob the on-chain verifier accepts.
type Prover interface {
	Prove(input []byte, publicValues []byte) ([]byte, error)
}

// HTTPProver submits proving jobs to a remote proving service.
// POST /prove with the serialized input and the expected public values; the
// service re-runs the verification inside the proving backend and must commit
// to exactly the same public values.
type HTTPProver struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPProver(baseURL string) *HTTPProver {
	return &HTTPProver{
		BaseURL: baseURL,
		Client:  &http.Client{},
	}
}

type proveRequest struct {
	Input        json.RawMessage `json:"input"`
	PublicValues types.HexBytes  `json:"public_values"`
}

type proveResponse struct {
	Proof types.HexBytes `json:"proof"`
}

func (p *HTTPProver) Prove(input []byte, publicValues []byte) ([]byte, error) {
	endpoint, err := url.Parse(p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	endpoint.Path = "/prove"

	payload, err := json.Marshal(proveRequest{
		Input:        input,
		PublicValues: publicValues,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := p.Client.Post(endpoint.String(), "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prover request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var proved proveResponse
	if err := json.Unmarshal(body, &proved); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(proved.Proof) == 0 {
		return nil, fmt.Errorf("prover returned empty proof")
	}
	return proved.Proof, nil
}

// NopProver skips proof generation; the oracle still verifies the input
// locally and writes the report artifacts. Used for dry runs.
type NopProver struct{}

func (NopProver) Prove([]byte, []byte) ([]byte, error) {
	return nil, nil
}

package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"communique/pkg/platform/sentinel"
)

// HTTPProver talks to the external proving module over HTTP. The module is
// versioned and swappable; this client knows nothing about the circuit.
type HTTPProver struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPProver(baseURL string, httpClient *http.Client) *HTTPProver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPProver{baseURL: baseURL, httpClient: httpClient}
}

type proveRequest struct {
	AddressSecret []byte   `json:"address_secret"`
	MerklePath    [][]byte `json:"merkle_path"`
	NullifierSeed []byte   `json:"nullifier_seed"`
	ActionID      string   `json:"action_id"`
	TreeRoot      []byte   `json:"tree_root"`
}

type proveResponse struct {
	Proof   []byte        `json:"proof"`
	Outputs PublicOutputs `json:"outputs"`
}

func (p *HTTPProver) Prove(ctx context.Context, inputs Inputs) (Proof, PublicOutputs, error) {
	var resp proveResponse
	err := p.call(ctx, "/prove", proveRequest(inputs), &resp)
	if err != nil {
		return nil, PublicOutputs{}, err
	}
	return resp.Proof, resp.Outputs, nil
}

type verifyRequest struct {
	Proof   []byte        `json:"proof"`
	Outputs PublicOutputs `json:"outputs"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func (p *HTTPProver) Verify(ctx context.Context, proof Proof, outputs PublicOutputs) (bool, error) {
	var resp verifyResponse
	if err := p.call(ctx, "/verify", verifyRequest{Proof: proof, Outputs: outputs}, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func (p *HTTPProver) call(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("prover call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("prover responded %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HTTPInclusionSource fetches inclusion paths from the district registry.
type HTTPInclusionSource struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPInclusionSource(baseURL string, httpClient *http.Client) *HTTPInclusionSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPInclusionSource{baseURL: baseURL, httpClient: httpClient}
}

type pathResponse struct {
	Path [][]byte `json:"path"`
	Root []byte   `json:"root"`
}

func (s *HTTPInclusionSource) Path(ctx context.Context, commitment string) ([][]byte, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/paths/"+commitment, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("registry call: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil, sentinel.ErrNotFound
	default:
		return nil, nil, fmt.Errorf("registry responded %d", resp.StatusCode)
	}

	var body pathResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, err
	}
	return body.Path, body.Root, nil
}

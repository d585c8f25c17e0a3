package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/kysee/zk-accounting/consensus"
	"github.com/kysee/zk-accounting/witness"
)

// SnapshotBundle is everything a report needs from the chain side: the beacon
// state snapshot and the execution-layer vault claim proved against it.
type SnapshotBundle struct {
	Snapshot consensus.Snapshot `json:"snapshot"`
	Vault    witness.VaultData  `json:"vault"`
}

// BundleAPIResponse is the snapshot service envelope.
type BundleAPIResponse struct {
	Version   string         `json:"version"`
	Finalized bool           `json:"finalized"`
	Data      SnapshotBundle `json:"data"`
}

// Fetcher retrieves the snapshot bundle for a slot.
type Fetcher interface {
	Bundle(slot uint64) (*SnapshotBundle, error)
}

// APIFetcher implements Fetcher by calling the snapshot service REST endpoint.
type APIFetcher struct {
	BaseURL string
	Client  *http.Client
}

func NewAPIFetcher(baseURL string) *APIFetcher {
	return &APIFetcher{
		BaseURL: baseURL,
		Client:  &http.Client{},
	}
}

// Bundle retrieves the snapshot bundle for a slot.
// GET /oracle/v1/snapshot/{slot}
func (a *APIFetcher) Bundle(slot uint64) (*SnapshotBundle, error) {
	endpoint, err := url.Parse(a.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	endpoint.Path = fmt.Sprintf("/oracle/v1/snapshot/%d", slot)

	resp, err := a.Client.Get(endpoint.String())
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var apiResponse BundleAPIResponse
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !apiResponse.Finalized {
		return nil, fmt.Errorf("snapshot for slot %d is not finalized", slot)
	}
	return &apiResponse.Data, nil
}

// FileFetcher implements Fetcher by reading a local JSON bundle. The slot
// argument is checked against the file contents.
type FileFetcher struct {
	FilePath string
}

func NewFileFetcher(filePath string) *FileFetcher {
	return &FileFetcher{
		FilePath: filePath,
	}
}

func (f *FileFetcher) Bundle(slot uint64) (*SnapshotBundle, error) {
	data, err := os.ReadFile(f.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", f.FilePath, err)
	}

	var bundle SnapshotBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if got := uint64(bundle.Snapshot.Slot); got != slot {
		return nil, fmt.Errorf("bundle slot %d does not match requested slot %d", got, slot)
	}
	return &bundle, nil
}

// Package adapters provides the HTTP-backed implementations of the
// external-collaborator interfaces declared by internal/inference and
// internal/execution: the sequence model session, the vector store, the
// swap-quote aggregator, and the chain RPC node. All four are explicitly
// out of scope for this repo's core design — only their wire contracts
// are implemented here, in the style of the teacher's
// internal/esi/client.go: a shared *http.Client with a tuned transport,
// a small retry-with-backoff helper, and one JSON round trip per call.
package adapters

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"memetrader/internal/execution"
	"memetrader/internal/inference"
	"memetrader/internal/model"
)

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond
)

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// postJSON does a retrying POST with a JSON body, decoding the response
// into out. Retries apply only to transport-level errors and 5xx
// responses, mirroring esi/client.go's retry policy for ESI 5xx/502.
func postJSON(ctx context.Context, hc *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseWait * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := hc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("http %d from %s", resp.StatusCode, url)
			continue
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("http %d from %s: %s", resp.StatusCode, url, string(data))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

// ModelClient implements inference.ModelSession against an HTTP-served
// sequence model (a sidecar such as a Triton/ONNX Runtime server fronted
// by a JSON endpoint — the model itself is out of scope, §1). It holds no
// mutex, and internal/inference.Engine takes none around Predict either;
// concurrent Predict calls are sent to the server concurrently.
type ModelClient struct {
	endpoint string
	hc       *http.Client
}

// NewModelClient constructs a ModelClient pointed at endpoint (the
// configured model-server URL).
func NewModelClient(endpoint string, timeout time.Duration) *ModelClient {
	return &ModelClient{endpoint: endpoint, hc: newHTTPClient(timeout)}
}

type predictRequest struct {
	Price      []float64 `json:"price"`
	PriceDelta []float64 `json:"price_delta"`
	Volume     []float64 `json:"volume"`
}

type predictResponse struct {
	Embedding    []float32 `json:"embedding"`
	AnomalyScore float64   `json:"anomaly_score"`
}

// Predict implements inference.ModelSession.
func (m *ModelClient) Predict(ctx context.Context, tensor *model.FeatureTensor) ([]float32, float64, error) {
	var resp predictResponse
	err := postJSON(ctx, m.hc, m.endpoint+"/predict", predictRequest{
		Price:      tensor.Price,
		PriceDelta: tensor.PriceDelta,
		Volume:     tensor.Volume,
	}, &resp)
	if err != nil {
		return nil, 0, err
	}
	return resp.Embedding, resp.AnomalyScore, nil
}

// VectorClient implements inference.VectorStore against an HTTP vector
// database (Qdrant-shaped collection API; the store itself is out of
// scope, §1).
type VectorClient struct {
	endpoint   string
	collection string
	hc         *http.Client
}

// NewVectorClient constructs a VectorClient for the given collection.
func NewVectorClient(endpoint, collection string, timeout time.Duration) *VectorClient {
	return &VectorClient{endpoint: endpoint, collection: collection, hc: newHTTPClient(timeout)}
}

type querySimilarRequest struct {
	Vector []float32 `json:"vector"`
	Limit  int       `json:"limit"`
}

type querySimilarResponse struct {
	Result []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"result"`
}

// QuerySimilar implements inference.VectorStore.
func (v *VectorClient) QuerySimilar(ctx context.Context, embedding []float32, k int) ([]inference.Neighbor, error) {
	var resp querySimilarResponse
	url := fmt.Sprintf("%s/collections/%s/points/search", v.endpoint, v.collection)
	if err := postJSON(ctx, v.hc, url, querySimilarRequest{Vector: embedding, Limit: k}, &resp); err != nil {
		return nil, err
	}
	neighbors := make([]inference.Neighbor, len(resp.Result))
	for i, r := range resp.Result {
		neighbors[i] = inference.Neighbor{ID: r.ID, Score: r.Score}
	}
	return neighbors, nil
}

type ingestPatternRequest struct {
	ID         string    `json:"id"`
	Vector     []float32 `json:"vector"`
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
}

// IngestPattern implements inference.VectorStore.
func (v *VectorClient) IngestPattern(ctx context.Context, rec model.PatternRecord) error {
	var discard struct{}
	url := fmt.Sprintf("%s/collections/%s/points", v.endpoint, v.collection)
	return postJSON(ctx, v.hc, url, ingestPatternRequest{
		ID: rec.ID, Vector: rec.Vector, Instrument: rec.InstrumentID, Price: rec.Price, Volume: rec.Volume,
	}, &discard)
}

// SwapRouter implements execution.Router against a Jupiter-shaped quote
// aggregator and a Solana JSON-RPC node (both out of scope, §1; the wire
// format here is a reasonable stand-in, not a protocol the repo commits
// to beyond its own Router contract).
type SwapRouter struct {
	quoteURL string
	rpcURL   string
	hc       *http.Client
}

// NewSwapRouter constructs a SwapRouter.
func NewSwapRouter(quoteURL, rpcURL string, timeout time.Duration) *SwapRouter {
	return &SwapRouter{quoteURL: quoteURL, rpcURL: rpcURL, hc: newHTTPClient(timeout)}
}

type quoteAPIRequest struct {
	InputMint   string  `json:"inputMint"`
	OutputMint  string  `json:"outputMint"`
	Amount      float64 `json:"amount"`
	SlippageBps float64 `json:"slippageBps"`
}

type quoteAPIResponse struct {
	InAmount       float64 `json:"inAmount"`
	OutAmount      float64 `json:"outAmount"`
	PriceImpactPct float64 `json:"priceImpactPct"`
	SlippageBps    float64 `json:"slippageBps"`
	RoutePlan      any     `json:"routePlan"`
}

// Quote implements execution.Router.
func (s *SwapRouter) Quote(ctx context.Context, req execution.QuoteRequest) (*execution.QuoteResponse, error) {
	var resp quoteAPIResponse
	url := s.quoteURL + "/quote"
	apiReq := quoteAPIRequest{InputMint: req.InputMint, OutputMint: req.OutputMint, Amount: req.InAmount, SlippageBps: req.SlippageBps}
	if err := postJSON(ctx, s.hc, url, apiReq, &resp); err != nil {
		return nil, err
	}
	return &execution.QuoteResponse{
		InAmount:       resp.InAmount,
		ExpectedOut:    resp.OutAmount,
		PriceImpactPct: resp.PriceImpactPct,
		SlippageBpsCap: resp.SlippageBps,
		Raw:            resp.RoutePlan,
	}, nil
}

type buildAPIRequest struct {
	Quote         any    `json:"quoteResponse"`
	UserPublicKey string `json:"userPublicKey"`
}

type buildAPIResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Blockhash       string `json:"lastValidBlockhash"`
}

// Build implements execution.Router.
func (s *SwapRouter) Build(ctx context.Context, quote *execution.QuoteResponse, userPublicKey string) (*execution.UnsignedTx, error) {
	var resp buildAPIResponse
	url := s.quoteURL + "/swap"
	if err := postJSON(ctx, s.hc, url, buildAPIRequest{Quote: quote.Raw, UserPublicKey: userPublicKey}, &resp); err != nil {
		return nil, err
	}
	return &execution.UnsignedTx{Bytes: []byte(resp.SwapTransaction), RecentBlockhash: resp.Blockhash}, nil
}

type sendTransactionParams struct {
	Encoding   string `json:"encoding"`
	Commitment string `json:"preflightCommitment"`
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type sendTransactionResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Submit implements execution.Router: sends the signed transaction, then
// polls getSignatureStatuses until confirmTimeout elapses or the chain
// reports confirmation.
func (s *SwapRouter) Submit(ctx context.Context, signedTx []byte, commitment string, confirmTimeout time.Duration) (*execution.SubmitResult, error) {
	var resp sendTransactionResponse
	req := jsonRPCRequest{
		JSONRPC: "2.0", ID: 1, Method: "sendTransaction",
		Params: []any{string(signedTx), sendTransactionParams{Encoding: "base64", Commitment: commitment}},
	}
	if err := postJSON(ctx, s.hc, s.rpcURL, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("rpc sendTransaction: %s", resp.Error.Message)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	confirmed, err := s.pollConfirmation(confirmCtx, resp.Result)
	if err != nil {
		// A poll failure does not discard the signature: the caller treats
		// Confirmed=false with a non-empty Signature as inconclusive, not as
		// a hard failure (§4.E).
		return &execution.SubmitResult{Signature: resp.Result, Confirmed: false}, nil
	}
	return &execution.SubmitResult{Signature: resp.Result, Confirmed: confirmed}, nil
}

func (s *SwapRouter) pollConfirmation(ctx context.Context, signature string) (bool, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			ok, err := s.GetSignatureStatus(ctx, signature)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
}

type signatureStatusResponse struct {
	Result struct {
		Value []*struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	} `json:"result"`
}

// GetSignatureStatus implements execution.Router.
func (s *SwapRouter) GetSignatureStatus(ctx context.Context, signature string) (bool, error) {
	var resp signatureStatusResponse
	req := jsonRPCRequest{
		JSONRPC: "2.0", ID: 1, Method: "getSignatureStatuses",
		Params: []any{[]string{signature}, map[string]bool{"searchTransactionHistory": true}},
	}
	if err := postJSON(ctx, s.hc, s.rpcURL, req, &resp); err != nil {
		return false, err
	}
	if len(resp.Result.Value) == 0 || resp.Result.Value[0] == nil {
		return false, nil
	}
	status := resp.Result.Value[0]
	if status.Err != nil {
		return false, fmt.Errorf("transaction %s failed on-chain", signature)
	}
	return status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized", nil
}

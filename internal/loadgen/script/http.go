package script

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
)

// HTTP metric names.
const (
	MetricHTTPReqDuration       = "http_req_duration"
	MetricHTTPReqs              = "http_reqs"
	MetricHTTPReqFailed         = "http_req_failed"
	MetricDataReceived          = "data_received"
	MetricHTTPReqConnecting     = "http_req_connecting"
	MetricHTTPReqTLSHandshaking = "http_req_tls_handshaking"
	MetricHTTPReqWaiting        = "http_req_waiting"
	MetricHTTPReqReceiving      = "http_req_receiving"
)

// Response contains the result of a single HTTP request.
type Response struct {
	URL        string
	StatusCode int
	Duration   time.Duration
	Bytes      int64
	Body       []byte // nil when the body was discarded
	Timings    Timings
	Error      error
}

// Client issues requests on behalf of an iteration and records the HTTP
// metrics into the VU's shard.
type Client struct {
	// DiscardResponseBodies drains bodies instead of keeping them
	DiscardResponseBodies bool
}

// Get performs a GET request. keepBody overrides DiscardResponseBodies for
// requests whose body is inspected by checks.
func (c *Client) Get(ctx context.Context, it *loadgen.Iteration, url string, keepBody bool) *Response {
	return c.Do(ctx, it, http.MethodGet, url, keepBody)
}

// Do performs a request without a body.
func (c *Client) Do(ctx context.Context, it *loadgen.Iteration, method, url string, keepBody bool) *Response {
	resp := &Response{URL: url}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		resp.Error = fmt.Errorf("failed to build request: %w", err)
		c.record(it, resp)
		return resp
	}

	tr := &tracer{}
	req = req.WithContext(httptrace.WithClientTrace(ctx, tr.clientTrace()))

	start := time.Now()
	httpResp, err := it.HTTPClient().Do(req)
	if err != nil {
		resp.Duration = time.Since(start)
		resp.Timings = tr.timings(time.Now())
		resp.Error = err
		c.record(it, resp)
		return resp
	}
	defer httpResp.Body.Close()

	resp.StatusCode = httpResp.StatusCode
	if keepBody || !c.DiscardResponseBodies {
		resp.Body, err = io.ReadAll(httpResp.Body)
		resp.Bytes = int64(len(resp.Body))
	} else {
		resp.Bytes, err = io.Copy(io.Discard, httpResp.Body)
	}
	end := time.Now()
	resp.Duration = end.Sub(start)
	resp.Timings = tr.timings(end)
	if err != nil {
		resp.Error = fmt.Errorf("failed to read response body: %w", err)
	}

	c.record(it, resp)
	return resp
}

func (c *Client) record(it *loadgen.Iteration, resp *Response) {
	it.RecordDuration(MetricHTTPReqDuration, resp.Duration)
	it.Add(MetricHTTPReqs, 1)
	it.Add(MetricDataReceived, float64(resp.Bytes))
	it.RecordDuration(MetricHTTPReqConnecting, resp.Timings.Connecting)
	it.RecordDuration(MetricHTTPReqTLSHandshaking, resp.Timings.TLSHandshaking)
	it.RecordDuration(MetricHTTPReqWaiting, resp.Timings.Waiting)
	it.RecordDuration(MetricHTTPReqReceiving, resp.Timings.Receiving)
	if resp.Failed() {
		it.Add(MetricHTTPReqFailed, 1)
	}
}

// Failed reports whether the request errored or returned a 4xx/5xx status.
func (r *Response) Failed() bool {
	return r.Error != nil || r.StatusCode >= 400 || r.StatusCode == 0
}

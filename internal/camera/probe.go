package camera

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
)

// ProbeMedia describes one media advertised by an RTSP server
type ProbeMedia struct {
	Type    string   `json:"type"`
	Formats []string `json:"formats"`
}

// ProbeResult is the outcome of an RTSP DESCRIBE
type ProbeResult struct {
	URL      string        `json:"url"`
	Medias   []ProbeMedia  `json:"medias"`
	HasVideo bool          `json:"has_video"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// ProbeRTSP issues a DESCRIBE against an RTSP URL and lists its medias
func ProbeRTSP(ctx context.Context, rawURL string, timeout time.Duration) (*ProbeResult, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	type describeResult struct {
		desc *description.Session
		err  error
	}
	start := time.Now()
	done := make(chan describeResult, 1)
	go func() {
		desc, _, err := client.Describe(u)
		done <- describeResult{desc: desc, err: err}
	}()

	var res describeResult
	select {
	case res = <-done:
	case <-ctx.Done():
		client.Close()
		<-done
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, fmt.Errorf("failed to describe stream: %w", res.err)
	}

	result := &ProbeResult{URL: (*url.URL)(u).Redacted(), Elapsed: time.Since(start)}
	for _, media := range res.desc.Medias {
		pm := ProbeMedia{Type: string(media.Type)}
		for _, forma := range media.Formats {
			pm.Formats = append(pm.Formats, forma.Codec())
		}
		if media.Type == description.MediaTypeVideo {
			result.HasVideo = true
		}
		result.Medias = append(result.Medias, pm)
	}
	return result, nil
}

// probedSource probes RTSP descriptors before delegating Open
type probedSource struct {
	Source
	url     string
	timeout time.Duration
}

// WithRTSPProbe wraps src so that every Open first checks the RTSP server
// with a DESCRIBE. Non-RTSP descriptors are returned unchanged.
func WithRTSPProbe(src Source, desc Descriptor, timeout time.Duration) Source {
	if desc.Kind != KindRTSP {
		return src
	}
	return &probedSource{Source: src, url: desc.Raw, timeout: timeout}
}

func (p *probedSource) Open(ctx context.Context) (Handle, error) {
	res, err := ProbeRTSP(ctx, p.url, p.timeout)
	if err != nil {
		return nil, &CaptureFault{Source: p.String(), Err: err}
	}
	if !res.HasVideo {
		return nil, &CaptureFault{Source: p.String(), Err: fmt.Errorf("stream has no video media")}
	}
	return p.Source.Open(ctx)
}

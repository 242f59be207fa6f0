// Package identity wraps the SPIFFE Workload API as an explicit dependency.
// No package-level accessor exists here: callers that need mTLS receive a
// *Provider by constructor injection instead of reaching for a global.
package identity

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// Provider fetches and rotates an X.509 SVID over the Workload API and
// builds mTLS transports from it.
type Provider struct {
	socketPath string
	log        logr.Logger

	source  *workloadapi.X509Source
	current atomic.Pointer[x509svid.SVID]

	listeners []func(*x509svid.SVID)
}

// New constructs a Provider bound to the given Workload API socket. Call
// Start to connect and begin rotation.
func New(socketPath string, log logr.Logger) *Provider {
	return &Provider{socketPath: socketPath, log: log.WithName("identity")}
}

// Start connects to the Workload API, fetches the initial SVID and trust
// bundle, and launches the background rotation watcher. It blocks until the
// first SVID is available.
func (p *Provider) Start(ctx context.Context) error {
	source, err := workloadapi.NewX509Source(ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr("unix://"+p.socketPath)))
	if err != nil {
		return fmt.Errorf("identity: connecting to workload API at %s: %w", p.socketPath, err)
	}
	p.source = source

	svid, err := source.GetX509SVID()
	if err != nil {
		return fmt.Errorf("identity: fetching initial SVID: %w", err)
	}
	p.current.Store(svid)

	go p.watch(ctx)
	return nil
}

// watch polls the source for rotation and notifies listeners non-blockingly.
// go-spiffe's X509Source already updates itself in the background; this loop
// exists to detect the change and fan it out to registered callbacks.
func (p *Provider) watch(ctx context.Context) {
	last := p.current.Load()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		svid, err := p.source.GetX509SVID()
		if err != nil {
			continue
		}
		if last == nil || svid.ID != last.ID || svid.Certificates[0].SerialNumber.Cmp(last.Certificates[0].SerialNumber) != 0 {
			p.current.Store(svid)
			last = svid
			for _, cb := range p.listeners {
				cb := cb
				go cb(svid)
			}
			p.log.Info("SVID rotated", "spiffeID", svid.ID.String())
		}
	}
}

// OnRotate registers a callback invoked whenever the current SVID is
// superseded. Callbacks MUST NOT block; each is dispatched on its own
// goroutine.
func (p *Provider) OnRotate(cb func(*x509svid.SVID)) {
	p.listeners = append(p.listeners, cb)
}

// Current returns the latest SVID, or nil if Start has not completed.
func (p *Provider) Current() *x509svid.SVID {
	return p.current.Load()
}

// TLSConfig returns an mTLS config for outbound connections, authorizing the
// peer against expectedID when non-empty (wildcard suffixes supported via
// Authorize), or against any identity in the trust domain otherwise.
func (p *Provider) TLSConfig(expectedID string) *tls.Config {
	if expectedID == "" {
		return tlsconfig.MTLSClientConfig(p.source, p.source, tlsconfig.AuthorizeAny())
	}
	return tlsconfig.MTLSClientConfig(p.source, p.source, tlsconfig.AdaptMatcher(func(actual spiffeid.ID) error {
		if Authorize(actual.String(), []string{expectedID}) {
			return nil
		}
		return fmt.Errorf("identity: peer %s does not match %s", actual, expectedID)
	}))
}

// Authorize reports whether spiffeID is permitted by allowed. An empty
// allowed set authorizes everything. A "/*" suffix on an allowed entry
// matches any ID sharing that prefix.
func Authorize(spiffeID string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.HasSuffix(a, "/*") {
			prefix := strings.TrimSuffix(a, "*")
			if strings.HasPrefix(spiffeID, prefix) {
				return true
			}
			continue
		}
		if spiffeID == a {
			return true
		}
	}
	return false
}

// Close releases the underlying Workload API connection.
func (p *Provider) Close() error {
	if p.source == nil {
		return nil
	}
	return p.source.Close()
}

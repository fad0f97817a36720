// Command relayproxyd runs a standalone relayproxy.Proxy, the accept-loop
// and CLI-flag collaborator spec.md declares external to the core module
// (spec.md §6). Grounded on the teacher's examples/base/main.go.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	relayproxy "github.com/relaykit/relayproxy"
	"github.com/relaykit/relayproxy/internal/activity"
	"github.com/relaykit/relayproxy/internal/proxyauth"
)

func main() {
	addr := flag.String("addr", ":8080", "proxy listen address")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address; empty disables metrics")
	transparent := flag.Bool("transparent", false, "accept redirected traffic without an explicit CONNECT, sniffing SNI/Host")
	dnssec := flag.Bool("dnssec", false, "verify DNS answers with DNSSEC before dialing")
	preventCanon := flag.Bool("prevent-canonicalization", false, "preserve wire header name casing when forwarding")
	viaID := flag.String("via", "relayproxyd", "proxy identifier appended to the Via header")
	authUser := flag.String("auth-user", "", "if set, require HTTP Basic proxy authentication with this username")
	authPass := flag.String("auth-pass", "", "password for -auth-user")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}
	defer logger.Sync()

	opts := relayproxy.DefaultOptions()
	opts.Logger = logger
	opts.UseDNSSEC = *dnssec
	opts.PreventCanonicalization = *preventCanon
	opts.ViaProxyID = *viaID
	opts.IdleTimeout = 5 * time.Minute

	if *authUser != "" {
		opts.Authenticator = proxyauth.AuthenticatorFunc(func(user, pass string) bool {
			return user == *authUser && pass == *authPass
		})
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		tracker := activity.NewPrometheusTracker(reg)
		opts.ActivityTrackers = []relayproxy.ActivityTracker{tracker}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			logger.Warn("metrics server exited", zap.Error(http.ListenAndServe(*metricsAddr, mux)))
		}()
	}

	proxy := relayproxy.New(opts)
	logger.Info("relayproxyd listening", zap.String("addr", *addr), zap.Bool("transparent", *transparent))
	var err error
	if *transparent {
		err = proxy.ListenAndServeTransparent(*addr)
	} else {
		err = proxy.ListenAndServe(*addr)
	}
	if err != nil {
		logger.Fatal("relayproxyd exited", zap.Error(err))
	}
}

// Package enforcer wires the decision components together and runs the
// external authorization service.
package enforcer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	ext_authz_v3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/wso2/product-microgateway-sub011/auth"
	"github.com/wso2/product-microgateway-sub011/config"
	"github.com/wso2/product-microgateway-sub011/filters"
	"github.com/wso2/product-microgateway-sub011/model"
	"github.com/wso2/product-microgateway-sub011/publisher"
	"github.com/wso2/product-microgateway-sub011/server"
	"github.com/wso2/product-microgateway-sub011/subscription"
	"github.com/wso2/product-microgateway-sub011/throttle"
)

// Options configures the enforcer.
type Options struct {
	// ConfigPath points at the YAML configuration file. The
	// ENFORCER_CONFIG environment variable wins over it.
	ConfigPath string
}

// Enforcer is the assembled decision service. The exported stores are
// the surface the control plane adapters feed.
type Enforcer struct {
	APIs          *subscription.APIStore
	Subscriptions *subscription.Store
	ThrottleData  *throttle.DataHolder
	Revocation    *auth.RevocationStore

	cfg       *config.Config
	publisher *publisher.Publisher
	check     *server.AuthServer
}

// New builds the enforcer from the configuration. The publisher starts
// disabled when no receivers are configured.
func New(ctx context.Context, o Options) (*Enforcer, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	e := &Enforcer{
		APIs:          subscription.NewAPIStore(),
		Subscriptions: subscription.NewStore(),
		ThrottleData:  throttle.NewDataHolder(),
		Revocation:    auth.NewRevocationStore(),
		cfg:           cfg,
	}

	issuers := auth.NewIssuerRegistry()
	for _, iss := range cfg.Auth.Issuers {
		refresh := time.Duration(iss.RefreshInterval)
		if refresh <= 0 {
			refresh = time.Hour
		}
		if err := issuers.RegisterJWKS(ctx, iss.Issuer, iss.JWKSURL, refresh); err != nil {
			return nil, err
		}
	}

	var pub *publisher.Publisher
	if cfg.Publisher.Enabled {
		pub, err = publisher.New(publisher.Options{
			ReceiverURLs:       cfg.Publisher.ReceiverURLs,
			Username:           cfg.Publisher.Username,
			Password:           cfg.Publisher.Password,
			MaxConcurrency:     cfg.Publisher.MaxConcurrency,
			QueueSize:          cfg.Publisher.QueueSize,
			QueueTimeout:       time.Duration(cfg.Publisher.QueueTimeout),
			SecurePoolCapacity: cfg.Publisher.SecurePoolCapacity,
			IdleTimeout:        time.Duration(cfg.Publisher.IdleTimeout),
		})
		if err != nil {
			return nil, fmt.Errorf("start publisher: %w", err)
		}
	}
	e.publisher = pub

	authenticator := auth.NewAuthenticator(auth.Options{
		Issuers:    issuers,
		Store:      e.Subscriptions,
		Revocation: e.Revocation,
		CacheSize:  cfg.Auth.CacheSize,
		CacheTTL:   time.Duration(cfg.Auth.CacheTTL),
		ClockSkew:  time.Duration(cfg.Auth.ClockSkew),
	})

	throttleFilter := throttle.NewFilter(e.ThrottleData, e.publishEvent)

	chain := filters.NewChain(
		&filters.CORSFilter{},
		authenticator,
		throttleFilter,
		&filters.MediationFilter{},
	)
	e.check = server.NewAuthServer(e.APIs, chain, cfg.Enforcer.SOAPErrorsEnabled)
	return e, nil
}

// publishEvent hands a usage event to the publisher when one is running.
func (e *Enforcer) publishEvent(ev *model.ThrottleEvent) {
	if e.publisher != nil {
		e.publisher.Publish(ev)
	}
}

// Run serves until ctx is cancelled, then drains the publisher.
func (e *Enforcer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", e.cfg.Enforcer.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", e.cfg.Enforcer.ListenAddress, err)
	}

	grpcServer := grpc.NewServer()
	ext_authz_v3.RegisterAuthorizationServer(grpcServer, e.check)

	var metricsServer *http.Server
	if addr := e.cfg.Enforcer.MetricsAddress; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics listener failed: %v", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		grpcServer.GracefulStop()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}
	}()

	log.Infof("authorization service listening on %s", e.cfg.Enforcer.ListenAddress)
	err = grpcServer.Serve(lis)

	if e.publisher != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if derr := e.publisher.Close(drainCtx); derr != nil {
			log.Errorf("publisher drain incomplete: %v", derr)
		}
	}
	return err
}

// Package main is the entry point for the ADK controller manager.
// It starts the Agent, AgentTask, and AgentRun controllers.
package main

import (
	"context"
	"flag"
	"os"

	dockerclient "github.com/docker/docker/client"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	adkv1alpha1 "github.com/thamizhelango/adk-controller/api/v1alpha1"
	"github.com/thamizhelango/adk-controller/internal/config"
	"github.com/thamizhelango/adk-controller/internal/controller"
	"github.com/thamizhelango/adk-controller/internal/identity"
	"github.com/thamizhelango/adk-controller/internal/registry"
	"github.com/thamizhelango/adk-controller/internal/sandbox"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(adkv1alpha1.AddToScheme(scheme))
}

func main() {
	var metricsAddr string
	var probeAddr string
	var enableLeaderElection bool

	cfg := config.FromEnv()

	flag.StringVar(&metricsAddr, "metrics-bind-address", cfg.MetricsBindAddress, "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", cfg.HealthProbeBindAddress, "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", cfg.LeaderElect,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseDevMode(true)))

	mgrOpts := ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress: metricsAddr,
		},
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "adk-controller-leader",
	}
	if cfg.WatchNamespace != "" {
		mgrOpts.Cache = cache.Options{DefaultNamespaces: map[string]cache.Config{cfg.WatchNamespace: {}}}
	}
	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), mgrOpts)
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	reg := registry.New()
	if err := registry.SeedBuiltins(reg); err != nil {
		setupLog.Error(err, "unable to seed tool registry")
		os.Exit(1)
	}

	var docker dockerclient.APIClient
	if cfg.UseDockerSandbox {
		c, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
		if err != nil {
			setupLog.Error(err, "USE_DOCKER_SANDBOX is set but docker is unreachable")
			os.Exit(1)
		}
		docker = c
	}

	var idProvider *identity.Provider
	if cfg.SPIFFESocket != "" {
		idProvider = identity.New(cfg.SPIFFESocket, ctrl.Log.WithName("identity"))
		if err := idProvider.Start(context.Background()); err != nil {
			setupLog.Error(err, "unable to start identity provider")
			os.Exit(1)
		}
	}

	sb := sandbox.New(cfg, reg, docker, idProvider, ctrl.Log.WithName("sandbox"))

	// Register controllers
	if err := (&controller.AgentReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
		Log:    ctrl.Log.WithName("controllers").WithName("Agent"),
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "Agent")
		os.Exit(1)
	}

	if err := (&controller.AgentTaskReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
		Log:    ctrl.Log.WithName("controllers").WithName("AgentTask"),
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "AgentTask")
		os.Exit(1)
	}

	if err := (&controller.AgentRunReconciler{
		Client:   mgr.GetClient(),
		Scheme:   mgr.GetScheme(),
		Log:      ctrl.Log.WithName("controllers").WithName("AgentRun"),
		Config:   cfg,
		Registry: reg,
		Sandbox:  sb,
		Identity: idProvider,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "AgentRun")
		os.Exit(1)
	}

	// Health checks
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting ADK controller manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}

/*
Copyright 2025 The Aibrix Team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/config"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/metrics"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/workload"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/server"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/store"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/utils"
)

var (
	configPath string
	kubeConfig string
	httpAddr   string
)

func main() {
	flag.StringVar(&configPath, "config", "/etc/resource-autoscaler/config.yaml", "Path to the autoscaler configuration file.")
	flag.StringVar(&kubeConfig, "kubeconfig", "", "Path to a kubeconfig. Only required if out-of-cluster.")
	flag.StringVar(&httpAddr, "http-bind-address", ":8080", "The address the health, metrics and debug endpoints bind to.")
	klog.InitFlags(flag.CommandLine)
	defer klog.Flush()
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		klog.Fatalf("Failed to load configuration: %v", err)
	}

	var restConfig *rest.Config
	if kubeConfig == "" {
		klog.Info("using in-cluster configuration")
		restConfig, err = rest.InClusterConfig()
	} else {
		klog.Infof("using configuration from '%s'", kubeConfig)
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeConfig)
	}
	if err != nil {
		klog.Fatalf("Error building kubeconfig: %v", err)
	}

	scheme := runtime.NewScheme()
	if err := appsv1.AddToScheme(scheme); err != nil {
		klog.Fatalf("Error building scheme: %v", err)
	}
	k8sClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		klog.Fatalf("Error creating kubernetes client: %v", err)
	}

	var podMetricsClient metricsclient.Interface
	if cfg.Metrics.Backend == config.MetricsBackendMetricsServer {
		podMetricsClient, err = metricsclient.NewForConfig(restConfig)
		if err != nil {
			klog.Fatalf("Error creating metrics client: %v", err)
		}
	}
	source, err := metrics.NewSource(cfg.Metrics, podMetricsClient)
	if err != nil {
		klog.Fatalf("Error creating metrics source: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, closeStores, err := newStores(ctx, cfg.Ledger)
	if err != nil {
		klog.Fatalf("Error creating ledger stores: %v", err)
	}
	defer closeStores()

	manager, err := resourceautoscaler.NewManager(cfg, source, workload.NewDeploymentResources(k8sClient), stores)
	if err != nil {
		klog.Fatalf("Error creating resource autoscaler: %v", err)
	}

	httpServer := server.NewServer(httpAddr, manager)
	if err := httpServer.Start(); err != nil {
		klog.Fatalf("Failed to start HTTP server: %v", err)
	}
	defer func() {
		if err := httpServer.Stop(); err != nil {
			klog.Warningf("Error stopping HTTP server: %v", err)
		}
	}()

	var gracefulStop = make(chan os.Signal, 1)
	signal.Notify(gracefulStop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-gracefulStop
		klog.Warningf("signal received: %v, initiating graceful shutdown...", sig)
		cancel()
	}()

	if err := manager.Run(ctx); err != nil {
		klog.ErrorS(err, "Resource autoscaler exited with error")
		klog.Flush()
		os.Exit(1)
	}
}

// newStores builds both ledger backends. The returned func releases shared connections.
func newStores(ctx context.Context, cfg config.Ledger) (resourceautoscaler.Stores, func(), error) {
	cooldownOpts := store.Options{Backend: cfg.Backend}
	allocationOpts := store.Options{Backend: cfg.Backend}
	closeFn := func() {}

	switch cfg.Backend {
	case store.BackendFile:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return resourceautoscaler.Stores{}, closeFn, err
		}
		cooldownOpts.Path = filepath.Join(cfg.Dir, "cooldown.json")
		allocationOpts.Path = filepath.Join(cfg.Dir, "allocations.json")
	case store.BackendRedis:
		redisClient, err := utils.NewRedisClient(ctx)
		if err != nil {
			return resourceautoscaler.Stores{}, closeFn, err
		}
		closeFn = func() {
			if err := redisClient.Close(); err != nil {
				klog.Warningf("Error closing Redis client: %v", err)
			}
		}
		var client redis.UniversalClient = redisClient
		cooldownOpts.RedisClient, allocationOpts.RedisClient = client, client
		cooldownOpts.Key = cfg.RedisKeyPrefix + ":cooldown"
		allocationOpts.Key = cfg.RedisKeyPrefix + ":allocations"
	}

	cooldownStore, err := store.New[time.Time](cooldownOpts)
	if err != nil {
		closeFn()
		return resourceautoscaler.Stores{}, func() {}, err
	}
	allocationStore, err := store.New[types.Allocation](allocationOpts)
	if err != nil {
		closeFn()
		return resourceautoscaler.Stores{}, func() {}, err
	}
	klog.InfoS("Ledger stores ready", "backend", cfg.Backend)
	return resourceautoscaler.Stores{Cooldown: cooldownStore, Allocation: allocationStore}, closeFn, nil
}

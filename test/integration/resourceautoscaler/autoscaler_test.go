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

package resourceautoscaler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/algorithm"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/allocation"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/config"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/cooldown"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/dispatcher"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/metrics"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/reduction"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/workload"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/store"
	"github.com/vllm-project/aibrix-resource-autoscaler/test/utils/validation"
	"github.com/vllm-project/aibrix-resource-autoscaler/test/utils/wrapper"
)

const namespace = "default"

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

var _ = ginkgo.Describe("Resource autoscaler", func() {
	var (
		ctx        context.Context
		prom       *fakePrometheus
		k8sClient  client.Client
		clock      *testClock
		cfg        *config.Config
		ledgerDir  string
		gate       *cooldown.Gate
		ledger     *allocation.Ledger
		dispatch   *dispatcher.Dispatcher
		reducer    *reduction.Task
		containers []types.ManagedContainer

		patchMu  sync.Mutex
		patches  map[string]int
		rejected map[string]bool
	)

	web := types.ManagedContainer{ServiceName: "web", ContainerName: "app", Namespace: namespace}
	api := types.ManagedContainer{ServiceName: "api", ContainerName: "app", Namespace: namespace}

	patchCount := func(deployment string) int {
		patchMu.Lock()
		defer patchMu.Unlock()
		return patches[deployment]
	}

	// setResources edits a container the way a manual kubectl apply would.
	setResources := func(deployment, container, cpu, memory string) {
		dep := &appsv1.Deployment{}
		gomega.Expect(k8sClient.Get(ctx, client.ObjectKey{Namespace: namespace, Name: deployment}, dep)).To(gomega.Succeed())
		for i := range dep.Spec.Template.Spec.Containers {
			c := &dep.Spec.Template.Spec.Containers[i]
			if c.Name != container {
				continue
			}
			list := corev1.ResourceList{corev1.ResourceCPU: resource.MustParse(cpu), corev1.ResourceMemory: resource.MustParse(memory)}
			c.Resources = corev1.ResourceRequirements{Requests: list, Limits: list.DeepCopy()}
		}
		gomega.Expect(k8sClient.Update(ctx, dep)).To(gomega.Succeed())
	}

	// build wires the components on top of the ledger files in ledgerDir, as a restart would.
	build := func() {
		gate = cooldown.NewGate(cfg.Rules.Cooldown.Duration, store.NewFileStore[time.Time](filepath.Join(ledgerDir, "cooldown.json")))
		ledger = allocation.NewLedger(store.NewFileStore[types.Allocation](filepath.Join(ledgerDir, "allocations.json")))
		gomega.Expect(gate.Load(ctx)).To(gomega.Succeed())
		gomega.Expect(ledger.Load(ctx)).To(gomega.Succeed())

		promAPI, err := metrics.InitializePrometheusAPI(prom.URL(), "", "")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		source := metrics.NewQuerySource(metrics.NewPrometheusQuerier(promAPI),
			cfg.Metrics.Prometheus.CPUQuery, cfg.Metrics.Prometheus.MemoryQuery, nil)

		dispatch = dispatcher.New(source, algorithm.NewRuleEvaluator(cfg.Rules), gate, ledger,
			workload.NewDeploymentResources(k8sClient), dispatcher.WithClock(clock.Now))
		reducer = reduction.NewTask(dispatch, ledger, containers, cfg.Rules, cfg.Reduction,
			reduction.WithClock(clock.Now), reduction.WithSpecReader(workload.NewDeploymentResources(k8sClient)))
	}

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		prom = newFakePrometheus()
		clock = &testClock{now: t0}
		ledgerDir = ginkgo.GinkgoT().TempDir()
		containers = []types.ManagedContainer{api, web}

		cfg = config.Default()
		cfg.Rules.MemThreshold = 0.7
		cfg.Containers = containers

		patches = map[string]int{}
		rejected = map[string]bool{}
		k8sClient = fake.NewClientBuilder().
			WithObjects(
				wrapper.MakeDeployment("web", namespace).AddResourceContainer("app", "500m", "512Mi").AddResourceContainer("sidecar", "50m", "64Mi").Obj(),
				wrapper.MakeDeployment("api", namespace).AddResourceContainer("app", "500m", "512Mi").Obj(),
			).
			WithInterceptorFuncs(interceptor.Funcs{
				Patch: func(ctx context.Context, c client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
					patchMu.Lock()
					patches[obj.GetName()]++
					reject := rejected[obj.GetName()]
					patchMu.Unlock()
					if reject {
						return apierrors.NewForbidden(schema.GroupResource{Group: "apps", Resource: "deployments"}, obj.GetName(), errors.New("denied by policy"))
					}
					return c.Patch(ctx, obj, patch, opts...)
				},
			}).
			Build()
		build()
	})

	ginkgo.AfterEach(func() {
		prom.Close()
	})

	ginkgo.It("applies cpu and memory in a single patch", func() {
		prom.Set("web", types.CPU, 0.92)
		prom.Set("web", types.Memory, 1536*types.BytesPerMi)

		report := dispatch.RunCycle(ctx, []types.ManagedContainer{web})

		res, ok := report.Result(web.Key())
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(res.Outcome).To(gomega.Equal(types.Applied))
		gomega.Expect(patchCount("web")).To(gomega.Equal(1))
		validation.ValidateContainerResources(ctx, k8sClient, namespace, "web", "app", "1", "1664Mi")
		validation.ValidateContainerResources(ctx, k8sClient, namespace, "web", "sidecar", "50m", "64Mi")
	})

	ginkgo.It("reports containers without samples as no-data", func() {
		report := dispatch.RunCycle(ctx, containers)

		gomega.Expect(report.Count(types.SkippedNoData)).To(gomega.Equal(2))
		gomega.Expect(prom.Queries()).To(gomega.Equal(4))
		gomega.Expect(patchCount("web") + patchCount("api")).To(gomega.BeZero())
	})

	ginkgo.It("holds a container in cooldown and releases it afterwards", func() {
		prom.Set("web", types.CPU, 0.92)
		dispatch.RunCycle(ctx, []types.ManagedContainer{web})
		validation.ValidateContainerResources(ctx, k8sClient, namespace, "web", "app", "1", "")

		clock.Set(t0.Add(600 * time.Second))
		prom.Set("web", types.CPU, 0.15)
		report := dispatch.RunCycle(ctx, []types.ManagedContainer{web})
		res, _ := report.Result(web.Key())
		gomega.Expect(res.Outcome).To(gomega.Equal(types.SkippedCooldown))
		gomega.Expect(patchCount("web")).To(gomega.Equal(1))

		clock.Set(t0.Add(1900 * time.Second))
		report = dispatch.RunCycle(ctx, []types.ManagedContainer{web})
		res, _ = report.Result(web.Key())
		gomega.Expect(res.Outcome).To(gomega.Equal(types.Applied))
		validation.ValidateContainerResources(ctx, k8sClient, namespace, "web", "app", "100m", "")
	})

	ginkgo.It("skips the patch when the deployment already runs the target", func() {
		prom.Set("web", types.CPU, 0.95)
		dispatch.RunCycle(ctx, []types.ManagedContainer{web})
		gomega.Expect(patchCount("web")).To(gomega.Equal(1))

		clock.Set(t0.Add(time.Hour))
		report := dispatch.RunCycle(ctx, []types.ManagedContainer{web})
		res, _ := report.Result(web.Key())
		gomega.Expect(res.Outcome).To(gomega.Equal(types.SkippedNoOp))
		gomega.Expect(patchCount("web")).To(gomega.Equal(1))
	})

	ginkgo.It("keeps going when one deployment rejects the patch", func() {
		patchMu.Lock()
		rejected["api"] = true
		patchMu.Unlock()
		prom.Set("api", types.CPU, 0.92)
		prom.Set("web", types.CPU, 0.92)

		report := dispatch.RunCycle(ctx, containers)

		apiRes, _ := report.Result(api.Key())
		gomega.Expect(apiRes.Outcome).To(gomega.Equal(types.Failed))
		gomega.Expect(apiRes.Reason).To(gomega.ContainSubstring("denied by policy"))
		webRes, _ := report.Result(web.Key())
		gomega.Expect(webRes.Outcome).To(gomega.Equal(types.Applied))
		validation.ValidateContainerResources(ctx, k8sClient, namespace, "api", "app", "500m", "512Mi")
		validation.ValidateContainerResources(ctx, k8sClient, namespace, "web", "app", "1", "")
		gomega.Expect(gate.MayApply(api.Key(), t0.Add(time.Second))).To(gomega.BeTrue())
	})

	ginkgo.It("ratchets stale allocations down through the same gates", func() {
		prom.Set("web", types.CPU, 0.92)
		dispatch.RunCycle(ctx, []types.ManagedContainer{web})
		validation.ValidateContainerResources(ctx, k8sClient, namespace, "web", "app", "1", "")

		clock.Set(t0.Add(30 * time.Minute))
		report := reducer.ReduceOnce(ctx, clock.Now())
		gomega.Expect(report.Results).To(gomega.BeEmpty(), "allocation is not stale yet")

		clock.Set(t0.Add(61 * time.Minute))
		report = reducer.ReduceOnce(ctx, clock.Now())
		gomega.Expect(report.Count(types.Applied)).To(gomega.Equal(1))
		gomega.Expect(report.Results[0].Source).To(gomega.Equal(types.SourceReduction))
		validation.ValidateContainerResources(ctx, k8sClient, namespace, "web", "app", "900m", "384Mi")

		// the reduction started a new cooldown, so the rule engine must wait
		clock.Set(t0.Add(62 * time.Minute))
		cycle := dispatch.RunCycle(ctx, []types.ManagedContainer{web})
		res, _ := cycle.Result(web.Key())
		gomega.Expect(res.Outcome).To(gomega.Equal(types.SkippedCooldown))
	})

	ginkgo.It("decays from a spec lowered outside the autoscaler", func() {
		prom.Set("web", types.CPU, 0.92)
		dispatch.RunCycle(ctx, []types.ManagedContainer{web})
		validation.ValidateContainerResources(ctx, k8sClient, namespace, "web", "app", "1", "512Mi")

		setResources("web", "app", "300m", "256Mi")
		clock.Set(t0.Add(61 * time.Minute))
		report := reducer.ReduceOnce(ctx, clock.Now())
		gomega.Expect(report.Count(types.Applied)).To(gomega.Equal(1))
		gomega.Expect(report.Results[0].Target.MemoryMi).To(gomega.BeNil(), "memory already at the floor")
		validation.ValidateContainerResources(ctx, k8sClient, namespace, "web", "app", "200m", "256Mi")

		alloc, ok := ledger.Get(web.Key())
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(*alloc.CPUCores).To(gomega.Equal(0.2))
		gomega.Expect(alloc.AppliedAt).To(gomega.Equal(t0.Add(61 * time.Minute)))
	})

	ginkgo.It("remembers cooldowns and allocations across a restart", func() {
		prom.Set("web", types.CPU, 0.92)
		dispatch.RunCycle(ctx, []types.ManagedContainer{web})

		build()

		clock.Set(t0.Add(10 * time.Minute))
		prom.Set("web", types.CPU, 0.15)
		report := dispatch.RunCycle(ctx, []types.ManagedContainer{web})
		res, _ := report.Result(web.Key())
		gomega.Expect(res.Outcome).To(gomega.Equal(types.SkippedCooldown))

		alloc, ok := ledger.Get(web.Key())
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(*alloc.CPUCores).To(gomega.Equal(1.0))
		gomega.Expect(alloc.AppliedAt.Equal(t0)).To(gomega.BeTrue())
	})
})

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

// Package workload reads and patches container resources on Deployments.
package workload

import (
	"context"
	"errors"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/client-go/util/retry"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/convergence"
	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

// Patcher applies already clamped values. A nil value leaves that dimension untouched.
type Patcher interface {
	PatchContainerResources(ctx context.Context, deployment, container, namespace string, cpu, memory *string) error
}

// SpecReader returns the resources a container currently runs with.
type SpecReader interface {
	CurrentResources(ctx context.Context, deployment, namespace, container string) (*convergence.CurrentSpec, error)
}

// Orchestrator is the collaborator the dispatcher talks to.
type Orchestrator interface {
	Patcher
	SpecReader
}

var errContainerNotFound = errors.New("container not found")

// DeploymentResources implements Orchestrator on a controller-runtime client. Requests and
// limits are always set to the same value.
type DeploymentResources struct {
	client client.Client
}

var _ Orchestrator = (*DeploymentResources)(nil)

func NewDeploymentResources(c client.Client) *DeploymentResources {
	return &DeploymentResources{client: c}
}

func (d *DeploymentResources) CurrentResources(ctx context.Context, deployment, namespace, container string) (*convergence.CurrentSpec, error) {
	dep := &appsv1.Deployment{}
	if err := d.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: deployment}, dep); err != nil {
		return nil, fmt.Errorf("failed to get deployment %s/%s: %w", namespace, deployment, err)
	}
	idx := containerIndex(dep, container)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s in deployment %s/%s", errContainerNotFound, container, namespace, deployment)
	}
	res := dep.Spec.Template.Spec.Containers[idx].Resources
	return &convergence.CurrentSpec{
		CPU:    quantityString(res, corev1.ResourceCPU),
		Memory: quantityString(res, corev1.ResourceMemory),
	}, nil
}

func (d *DeploymentResources) PatchContainerResources(ctx context.Context, deployment, container, namespace string, cpu, memory *string) error {
	wrap := func(err error) error {
		return &types.PatchError{Namespace: namespace, Deployment: deployment, Container: container, Err: err}
	}
	if cpu == nil && memory == nil {
		return nil
	}

	quantities := corev1.ResourceList{}
	if cpu != nil {
		q, err := resource.ParseQuantity(*cpu)
		if err != nil {
			return wrap(fmt.Errorf("invalid cpu %q: %w", *cpu, err))
		}
		quantities[corev1.ResourceCPU] = q
	}
	if memory != nil {
		q, err := resource.ParseQuantity(*memory)
		if err != nil {
			return wrap(fmt.Errorf("invalid memory %q: %w", *memory, err))
		}
		quantities[corev1.ResourceMemory] = q
	}

	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		cur := &appsv1.Deployment{}
		if err := d.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: deployment}, cur); err != nil {
			return err
		}
		idx := containerIndex(cur, container)
		if idx < 0 {
			return fmt.Errorf("%w: %s", errContainerNotFound, container)
		}

		upd := cur.DeepCopy()
		res := &upd.Spec.Template.Spec.Containers[idx].Resources
		if res.Requests == nil {
			res.Requests = corev1.ResourceList{}
		}
		if res.Limits == nil {
			res.Limits = corev1.ResourceList{}
		}
		for name, q := range quantities {
			res.Requests[name] = q.DeepCopy()
			res.Limits[name] = q.DeepCopy()
		}
		return d.client.Patch(ctx, upd, client.MergeFromWithOptions(cur, client.MergeFromWithOptimisticLock{}))
	})
	if err != nil {
		return wrap(err)
	}

	klog.InfoS("Patched container resources", "namespace", namespace, "deployment", deployment,
		"container", container, "cpu", ptrString(cpu), "memory", ptrString(memory))
	return nil
}

func containerIndex(dep *appsv1.Deployment, name string) int {
	for i := range dep.Spec.Template.Spec.Containers {
		if dep.Spec.Template.Spec.Containers[i].Name == name {
			return i
		}
	}
	return -1
}

// quantityString prefers requests and falls back to limits.
func quantityString(res corev1.ResourceRequirements, name corev1.ResourceName) string {
	if q, ok := res.Requests[name]; ok {
		return q.String()
	}
	if q, ok := res.Limits[name]; ok {
		return q.String()
	}
	return ""
}

func ptrString(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

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

package validation

import (
	"context"

	"github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ContainerResources returns the requests and limits of one container of a Deployment.
func ContainerResources(ctx context.Context, k8sClient client.Client, namespace, deployment, container string) corev1.ResourceRequirements {
	dep := &appsv1.Deployment{}
	gomega.ExpectWithOffset(1, k8sClient.Get(ctx, client.ObjectKey{Namespace: namespace, Name: deployment}, dep)).To(gomega.Succeed())
	var (
		found     bool
		resources corev1.ResourceRequirements
	)
	for _, c := range dep.Spec.Template.Spec.Containers {
		if c.Name == container {
			found, resources = true, c.Resources
		}
	}
	gomega.ExpectWithOffset(1, found).To(gomega.BeTrue(), "container %s not found in deployment %s/%s", container, namespace, deployment)
	return resources
}

// ValidateContainerResources checks that requests and limits both carry cpu and memory.
// An empty expectation skips that resource.
func ValidateContainerResources(ctx context.Context, k8sClient client.Client,
	namespace, deployment, container, cpu, memory string) {
	res := ContainerResources(ctx, k8sClient, namespace, deployment, container)
	for _, list := range []corev1.ResourceList{res.Requests, res.Limits} {
		if cpu != "" {
			got := list[corev1.ResourceCPU]
			gomega.ExpectWithOffset(1, got.Cmp(resource.MustParse(cpu))).To(gomega.Equal(0),
				"cpu of %s/%s[%s] is %s, want %s", namespace, deployment, container, got.String(), cpu)
		}
		if memory != "" {
			got := list[corev1.ResourceMemory]
			gomega.ExpectWithOffset(1, got.Cmp(resource.MustParse(memory))).To(gomega.Equal(0),
				"memory of %s/%s[%s] is %s, want %s", namespace, deployment, container, got.String(), memory)
		}
	}
}

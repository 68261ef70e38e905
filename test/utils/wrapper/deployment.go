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

package wrapper

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

// DeploymentWrapper wraps core Deployment types to provide a fluent API for test construction.
type DeploymentWrapper struct {
	deployment appsv1.Deployment
}

// Obj returns the pointer to the underlying Deployment object.
func (w *DeploymentWrapper) Obj() *appsv1.Deployment {
	return &w.deployment
}

// MakeDeployment creates a new DeploymentWrapper with no containers.
func MakeDeployment(name, namespace string) *DeploymentWrapper {
	return &DeploymentWrapper{
		deployment: appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: namespace,
			},
			Spec: appsv1.DeploymentSpec{
				Replicas: ptr.To[int32](1),
				Selector: &metav1.LabelSelector{
					MatchLabels: map[string]string{"app": name},
				},
				Template: corev1.PodTemplateSpec{
					ObjectMeta: metav1.ObjectMeta{
						Labels: map[string]string{"app": name},
					},
				},
			},
		},
	}
}

// AddContainer adds a container to the pod template.
func (w *DeploymentWrapper) AddContainer(container corev1.Container) *DeploymentWrapper {
	if container.Image == "" {
		container.Image = "nginx:1.27"
	}
	w.deployment.Spec.Template.Spec.Containers = append(
		w.deployment.Spec.Template.Spec.Containers,
		container,
	)
	return w
}

// AddResourceContainer adds a container whose requests and limits are both cpu and memory.
// An empty value leaves that resource unset.
func (w *DeploymentWrapper) AddResourceContainer(name, cpu, memory string) *DeploymentWrapper {
	resources := corev1.ResourceList{}
	if cpu != "" {
		resources[corev1.ResourceCPU] = resource.MustParse(cpu)
	}
	if memory != "" {
		resources[corev1.ResourceMemory] = resource.MustParse(memory)
	}
	return w.AddContainer(corev1.Container{
		Name: name,
		Resources: corev1.ResourceRequirements{
			Requests: resources,
			Limits:   resources.DeepCopy(),
		},
	})
}

// Replicas sets the replica count.
func (w *DeploymentWrapper) Replicas(n int32) *DeploymentWrapper {
	w.deployment.Spec.Replicas = ptr.To(n)
	return w
}

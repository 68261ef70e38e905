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

package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/vllm-project/aibrix-resource-autoscaler/pkg/controller/resourceautoscaler/types"
)

var placeholderPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// BuildQuery substitutes ${name} placeholders in a PromQL template and injects
// extraLabels that have no placeholder of their own into the first selector.
func BuildQuery(queryTemplate string, placeholders, extraLabels map[string]string) string {
	query := placeholderPattern.ReplaceAllStringFunc(queryTemplate, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if value, exists := placeholders[key]; exists {
			return value
		}
		if value, exists := extraLabels[key]; exists {
			return value
		}
		return match
	})

	var extra []string
	for key, value := range extraLabels {
		if !strings.Contains(queryTemplate, fmt.Sprintf("${%s}", key)) {
			extra = append(extra, fmt.Sprintf(`%s="%s"`, key, value))
		}
	}
	if len(extra) == 0 {
		return query
	}
	sort.Strings(extra)
	labels := strings.Join(extra, ",")
	if strings.Contains(query, "{") {
		return strings.Replace(query, "{", fmt.Sprintf("{%s,", labels), 1)
	}
	return fmt.Sprintf("%s{%s}", query, labels)
}

// Placeholders returns the template values for a managed container.
func Placeholders(c types.ManagedContainer) map[string]string {
	return map[string]string{
		"namespace":  c.Namespace,
		"deployment": c.ServiceName,
		"container":  c.ContainerName,
		"pod":        PodPattern(c),
	}
}

// PodPattern is the pod name regular expression of a container. Without an explicit
// selector it matches the pods a Deployment names after itself.
func PodPattern(c types.ManagedContainer) string {
	if c.PodSelector != "" {
		return c.PodSelector
	}
	return regexp.QuoteMeta(c.ServiceName) + "-.*"
}

// PodMatcher compiles PodPattern anchored to the whole pod name.
func PodMatcher(c types.ManagedContainer) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + PodPattern(c) + ")$")
}

package execution

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	v1 "k8s.io/api/core/v1"
	k8s_errors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/pointer"

	"github.com/salvoproject/salvo/internal/salvo/configuration"
	"github.com/salvoproject/salvo/pkg/api"
)

const PodNamePrefix string = "salvo-worker-"

const (
	TestIdLabel = "salvo_test_id"
	TaskIdLabel = "salvo_task_id"
	RegionLabel = "salvo_region"
)

const regionNodeSelector = "topology.kubernetes.io/region"

func CreateKubernetesClient(kubernetesConfig *configuration.KubernetesConfig) (kubernetes.Interface, error) {
	config, err := loadConfig(kubernetesConfig)
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(config)
}

func loadConfig(kubernetesConfig *configuration.KubernetesConfig) (*rest.Config, error) {
	if kubernetesConfig.InClusterDeployment {
		return rest.InClusterConfig()
	} else if kubernetesConfig.ConfigLocation != "" {
		return clientcmd.BuildConfigFromFlags("", kubernetesConfig.ConfigLocation)
	} else {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		overrides := &clientcmd.ConfigOverrides{}
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	}
}

// KubernetesTaskClient runs each worker task as a pod. Pods are pinned to
// their region through a topology.kubernetes.io/region node selector.
type KubernetesTaskClient struct {
	kubernetesClient kubernetes.Interface
	config           *configuration.KubernetesConfig
}

func NewKubernetesTaskClient(kubernetesClient kubernetes.Interface, config *configuration.KubernetesConfig) *KubernetesTaskClient {
	return &KubernetesTaskClient{
		kubernetesClient: kubernetesClient,
		config:           config,
	}
}

func (c *KubernetesTaskClient) LaunchTasks(ctx context.Context, specs []TaskSpec) ([]TaskHandle, error) {
	handles := make([]TaskHandle, 0, len(specs))
	var result *multierror.Error
	for _, spec := range specs {
		pod := c.createWorkerPod(&spec)
		_, err := c.kubernetesClient.CoreV1().Pods(c.config.Namespace).Create(ctx, pod, metav1.CreateOptions{})
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to launch worker task %s", spec.TaskId))
			continue
		}
		handles = append(handles, TaskHandle{TaskId: spec.TaskId, Region: spec.Region})
	}
	return handles, result.ErrorOrNil()
}

func (c *KubernetesTaskClient) DescribeTasks(ctx context.Context, handles []TaskHandle) ([]TaskStatus, error) {
	statuses := make([]TaskStatus, len(handles))
	g, ctx := errgroup.WithContext(ctx)
	for i, handle := range handles {
		i, handle := i, handle
		g.Go(func() error {
			pod, err := c.kubernetesClient.CoreV1().Pods(c.config.Namespace).Get(ctx, PodNamePrefix+handle.TaskId, metav1.GetOptions{})
			if err != nil {
				if k8s_errors.IsNotFound(err) {
					// The pod is gone without us stopping it, e.g. evicted
					// and garbage collected. Count the task as failed.
					statuses[i] = TaskStatus{
						Handle:  handle,
						Status:  api.TaskStoppedFailure,
						Message: "worker pod no longer exists",
					}
					return nil
				}
				return errors.WithStack(err)
			}
			statuses[i] = TaskStatus{
				Handle:  handle,
				Status:  statusFromPod(pod),
				Message: failureMessageFromPod(pod),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (c *KubernetesTaskClient) StopTask(ctx context.Context, handle TaskHandle) error {
	err := c.kubernetesClient.CoreV1().Pods(c.config.Namespace).Delete(ctx, PodNamePrefix+handle.TaskId, metav1.DeleteOptions{})
	if err != nil && !k8s_errors.IsNotFound(err) {
		return errors.WithStack(err)
	}
	if err == nil {
		log.WithField("taskId", handle.TaskId).Info("Stopped worker pod")
	}
	return nil
}

func (c *KubernetesTaskClient) createWorkerPod(spec *TaskSpec) *v1.Pod {
	labels := map[string]string{
		TestIdLabel: spec.TestId,
		TaskIdLabel: spec.TaskId,
		RegionLabel: spec.Region,
	}

	env := []v1.EnvVar{
		{Name: "SALVO_TEST_ID", Value: spec.TestId},
		{Name: "SALVO_TASK_ID", Value: spec.TaskId},
		{Name: "SALVO_REGION", Value: spec.Region},
		{Name: "SALVO_CONCURRENCY", Value: strconv.Itoa(spec.Concurrency)},
		{Name: "SALVO_DURATION", Value: spec.Duration.String()},
		{Name: "SALVO_RAMP_UP", Value: spec.RampUp.String()},
		{Name: "SALVO_SCENARIO", Value: spec.Payload},
	}
	extraEnv := maps.Keys(c.config.WorkerEnv)
	slices.Sort(extraEnv)
	for _, name := range extraEnv {
		env = append(env, v1.EnvVar{Name: name, Value: c.config.WorkerEnv[name]})
	}

	pod := &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:   PodNamePrefix + spec.TaskId,
			Labels: labels,
		},
		Spec: v1.PodSpec{
			RestartPolicy:                 v1.RestartPolicyNever,
			NodeSelector:                  regionSelector(spec.Region),
			TerminationGracePeriodSeconds: pointer.Int64(c.config.TerminationGracePeriodSeconds),
			Containers: []v1.Container{
				{
					Name:  "worker",
					Image: c.config.WorkerImage,
					Env:   env,
					Resources: v1.ResourceRequirements{
						Requests: workerResourceList(c.config.WorkerResources),
						Limits:   workerResourceList(c.config.WorkerResources),
					},
				},
			},
		},
	}
	return pod
}

func regionSelector(region string) map[string]string {
	if region == "" {
		return nil
	}
	return map[string]string{regionNodeSelector: region}
}

func workerResourceList(requests map[string]string) v1.ResourceList {
	if len(requests) == 0 {
		return nil
	}
	list := v1.ResourceList{}
	for name, quantity := range requests {
		list[v1.ResourceName(name)] = resource.MustParse(quantity)
	}
	return list
}

func statusFromPod(pod *v1.Pod) api.TaskStatus {
	switch pod.Status.Phase {
	case v1.PodSucceeded:
		return api.TaskStoppedSuccess
	case v1.PodFailed:
		return api.TaskStoppedFailure
	case v1.PodRunning:
		return api.TaskRunning
	default:
		return api.TaskPending
	}
}

func failureMessageFromPod(pod *v1.Pod) string {
	if pod.Status.Phase != v1.PodFailed {
		return ""
	}
	for _, containerStatus := range pod.Status.ContainerStatuses {
		if terminated := containerStatus.State.Terminated; terminated != nil && terminated.ExitCode != 0 {
			return fmt.Sprintf("container %s exited with code %d: %s", containerStatus.Name, terminated.ExitCode, terminated.Reason)
		}
	}
	if pod.Status.Reason != "" {
		return pod.Status.Reason
	}
	return "worker pod failed"
}

package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	clientTesting "k8s.io/client-go/testing"

	"github.com/salvoproject/salvo/internal/salvo/configuration"
	"github.com/salvoproject/salvo/pkg/api"
)

func setupTaskClient() (*KubernetesTaskClient, *fake.Clientset) {
	client := fake.NewSimpleClientset()
	taskClient := NewKubernetesTaskClient(client, &configuration.KubernetesConfig{
		Namespace:                     "salvo",
		WorkerImage:                   "salvo/worker:latest",
		TerminationGracePeriodSeconds: 30,
		WorkerResources:               map[string]string{"cpu": "500m", "memory": "256Mi"},
		WorkerEnv:                     map[string]string{"SALVO_RESULT_STORE": "redis:6379"},
	})
	return taskClient, client
}

func launchSpec(taskId string, region string) TaskSpec {
	return TaskSpec{
		TaskId:      taskId,
		TestId:      "01test",
		Region:      region,
		Concurrency: 50,
		Payload:     `{"url":"http://example.com"}`,
		Duration:    time.Minute,
		RampUp:      10 * time.Second,
	}
}

func TestKubernetesTaskClient_LaunchTasksCreatesWorkerPods(t *testing.T) {
	taskClient, client := setupTaskClient()

	handles, err := taskClient.LaunchTasks(context.Background(), []TaskSpec{
		launchSpec("task1", "eu-west-1"),
		launchSpec("task2", "us-east-1"),
	})

	require.NoError(t, err)
	assert.Equal(t, 2, len(handles))

	pod, err := client.CoreV1().Pods("salvo").Get(context.Background(), PodNamePrefix+"task1", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "01test", pod.Labels[TestIdLabel])
	assert.Equal(t, "task1", pod.Labels[TaskIdLabel])
	assert.Equal(t, "eu-west-1", pod.Spec.NodeSelector["topology.kubernetes.io/region"])
	assert.Equal(t, v1.RestartPolicyNever, pod.Spec.RestartPolicy)
	require.NotNil(t, pod.Spec.TerminationGracePeriodSeconds)
	assert.Equal(t, int64(30), *pod.Spec.TerminationGracePeriodSeconds)

	container := pod.Spec.Containers[0]
	assert.Equal(t, "salvo/worker:latest", container.Image)
	env := map[string]string{}
	for _, e := range container.Env {
		env[e.Name] = e.Value
	}
	assert.Equal(t, "50", env["SALVO_CONCURRENCY"])
	assert.Equal(t, "1m0s", env["SALVO_DURATION"])
	assert.Equal(t, "redis:6379", env["SALVO_RESULT_STORE"])
	assert.Equal(t, "500m", container.Resources.Requests.Cpu().String())
}

func TestKubernetesTaskClient_LaunchTasksReportsPartialFailure(t *testing.T) {
	taskClient, client := setupTaskClient()
	failed := false
	client.Fake.PrependReactor("create", "pods", func(action clientTesting.Action) (bool, runtime.Object, error) {
		if !failed {
			failed = true
			return true, nil, errors.New("server error")
		}
		return false, nil, nil
	})

	handles, err := taskClient.LaunchTasks(context.Background(), []TaskSpec{
		launchSpec("task1", "eu-west-1"),
		launchSpec("task2", "eu-west-1"),
	})

	assert.Error(t, err)
	require.Equal(t, 1, len(handles))
	assert.Equal(t, "task2", handles[0].TaskId)
}

func TestKubernetesTaskClient_DescribeTasksMapsPodPhases(t *testing.T) {
	taskClient, client := setupTaskClient()

	handles, err := taskClient.LaunchTasks(context.Background(), []TaskSpec{
		launchSpec("task1", "eu-west-1"),
		launchSpec("task2", "eu-west-1"),
	})
	require.NoError(t, err)

	setPodPhase(t, client, "task1", v1.PodSucceeded)
	setPodPhase(t, client, "task2", v1.PodRunning)

	statuses, err := taskClient.DescribeTasks(context.Background(), handles)

	require.NoError(t, err)
	assert.Equal(t, api.TaskStoppedSuccess, statuses[0].Status)
	assert.Equal(t, api.TaskRunning, statuses[1].Status)
}

func TestKubernetesTaskClient_DescribeTasksReportsMissingPodAsFailed(t *testing.T) {
	taskClient, _ := setupTaskClient()

	statuses, err := taskClient.DescribeTasks(context.Background(), []TaskHandle{{TaskId: "ghost", Region: "eu-west-1"}})

	require.NoError(t, err)
	assert.Equal(t, api.TaskStoppedFailure, statuses[0].Status)
	assert.NotEmpty(t, statuses[0].Message)
}

func TestKubernetesTaskClient_DescribeTasksExtractsFailureMessage(t *testing.T) {
	taskClient, client := setupTaskClient()

	handles, err := taskClient.LaunchTasks(context.Background(), []TaskSpec{launchSpec("task1", "eu-west-1")})
	require.NoError(t, err)

	pod, err := client.CoreV1().Pods("salvo").Get(context.Background(), PodNamePrefix+"task1", metav1.GetOptions{})
	require.NoError(t, err)
	pod.Status.Phase = v1.PodFailed
	pod.Status.ContainerStatuses = []v1.ContainerStatus{
		{
			Name: "worker",
			State: v1.ContainerState{
				Terminated: &v1.ContainerStateTerminated{ExitCode: 137, Reason: "OOMKilled"},
			},
		},
	}
	_, err = client.CoreV1().Pods("salvo").UpdateStatus(context.Background(), pod, metav1.UpdateOptions{})
	require.NoError(t, err)

	statuses, err := taskClient.DescribeTasks(context.Background(), handles)

	require.NoError(t, err)
	assert.Equal(t, api.TaskStoppedFailure, statuses[0].Status)
	assert.Contains(t, statuses[0].Message, "OOMKilled")
}

func TestKubernetesTaskClient_StopTaskDeletesPodAndToleratesMissing(t *testing.T) {
	taskClient, client := setupTaskClient()

	_, err := taskClient.LaunchTasks(context.Background(), []TaskSpec{launchSpec("task1", "eu-west-1")})
	require.NoError(t, err)

	err = taskClient.StopTask(context.Background(), TaskHandle{TaskId: "task1", Region: "eu-west-1"})
	require.NoError(t, err)

	_, err = client.CoreV1().Pods("salvo").Get(context.Background(), PodNamePrefix+"task1", metav1.GetOptions{})
	assert.Error(t, err)

	// Stopping again is not an error.
	err = taskClient.StopTask(context.Background(), TaskHandle{TaskId: "task1", Region: "eu-west-1"})
	assert.NoError(t, err)
}

func setPodPhase(t *testing.T, client *fake.Clientset, taskId string, phase v1.PodPhase) {
	pod, err := client.CoreV1().Pods("salvo").Get(context.Background(), PodNamePrefix+taskId, metav1.GetOptions{})
	require.NoError(t, err)
	pod.Status.Phase = phase
	_, err = client.CoreV1().Pods("salvo").UpdateStatus(context.Background(), pod, metav1.UpdateOptions{})
	require.NoError(t, err)
}

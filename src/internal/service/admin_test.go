package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/simplereview/review-service/src/internal/api/apiErrors"
	"github.com/simplereview/review-service/src/internal/model"
	"github.com/simplereview/review-service/src/internal/scm"
)

func testProject() scm.Project {
	return scm.Project{ID: 42, Name: "shop", GroupID: 9, GroupName: "team"}
}

func TestAddProjectConfig_Success(t *testing.T) {
	svc, mockRepo, mockSCM, _ := createTestService(t)

	mockSCM.On("GetProjectByPath", mock.Anything, "team", "shop").Return(testProject(), nil)
	mockRepo.On("GetPolicy", mock.Anything, 42).Return(model.ProjectPolicy{}, model.ErrNotFound)
	mockRepo.On("CreatePolicy", mock.Anything, mock.MatchedBy(func(p model.ProjectPolicy) bool {
		return p.ProjectID == 42 && p.Enabled && p.ReviewerMode == model.ReviewerModeProject
	})).Return(model.ProjectPolicy{ID: 1, ProjectID: 42, Enabled: true, ReviewerMode: model.ReviewerModeProject}, nil)
	mockSCM.On("AddWebhook", mock.Anything, 42, "https://review.example.com/webhook", "hook-token").Return(77, nil)
	mockRepo.On("SetPolicyHookID", mock.Anything, int64(1), 77).Return(nil)

	policy, err := svc.AddProjectConfig(context.Background(), "team", "shop", PolicyRequest{})

	assert.NoError(t, err)
	assert.Equal(t, 77, policy.HookID)
	mockRepo.AssertExpectations(t)
}

func TestAddProjectConfig_GitflowPreset(t *testing.T) {
	svc, mockRepo, mockSCM, _ := createTestService(t)

	mockSCM.On("GetProjectByPath", mock.Anything, "team", "shop").Return(testProject(), nil)
	mockRepo.On("GetPolicy", mock.Anything, 42).Return(model.ProjectPolicy{}, model.ErrNotFound)
	mockRepo.On("CreatePolicy", mock.Anything, mock.Anything).
		Return(model.ProjectPolicy{ID: 1, ProjectID: 42, Enabled: true}, nil)
	mockRepo.On("AddRoutingRule", mock.Anything, mock.Anything).Return(model.RoutingRule{}, nil)
	mockSCM.On("AddWebhook", mock.Anything, 42, mock.Anything, mock.Anything).Return(77, nil)
	mockRepo.On("SetPolicyHookID", mock.Anything, int64(1), 77).Return(nil)

	_, err := svc.AddProjectConfig(context.Background(), "team", "shop", PolicyRequest{GitflowRules: true})

	assert.NoError(t, err)
	mockRepo.AssertNumberOfCalls(t, "AddRoutingRule", len(gitflowRules))
}

func TestAddProjectConfig_AlreadyExists(t *testing.T) {
	svc, mockRepo, mockSCM, _ := createTestService(t)

	mockSCM.On("GetProjectByPath", mock.Anything, "team", "shop").Return(testProject(), nil)
	mockRepo.On("GetPolicy", mock.Anything, 42).Return(enabledPolicy(42), nil)

	_, err := svc.AddProjectConfig(context.Background(), "team", "shop", PolicyRequest{})

	var apiErr apiErrors.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apiErrors.ProjectExists, apiErr.Code)
	mockRepo.AssertNotCalled(t, "CreatePolicy")
}

func TestAddProjectConfig_InvalidMode(t *testing.T) {
	svc, mockRepo, mockSCM, _ := createTestService(t)

	mockSCM.On("GetProjectByPath", mock.Anything, "team", "shop").Return(testProject(), nil)
	mockRepo.On("GetPolicy", mock.Anything, 42).Return(model.ProjectPolicy{}, model.ErrNotFound)

	mode := "EVERYBODY"
	_, err := svc.AddProjectConfig(context.Background(), "team", "shop", PolicyRequest{ReviewerMode: &mode})

	var apiErr apiErrors.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apiErrors.InvalidMode, apiErr.Code)
	mockRepo.AssertNotCalled(t, "CreatePolicy")
}

func TestAddProjectConfig_WebhookFailureRollsBack(t *testing.T) {
	svc, mockRepo, mockSCM, _ := createTestService(t)

	mockSCM.On("GetProjectByPath", mock.Anything, "team", "shop").Return(testProject(), nil)
	mockRepo.On("GetPolicy", mock.Anything, 42).Return(model.ProjectPolicy{}, model.ErrNotFound)
	mockRepo.On("CreatePolicy", mock.Anything, mock.Anything).
		Return(model.ProjectPolicy{ID: 1, ProjectID: 42, Enabled: true}, nil)
	mockSCM.On("AddWebhook", mock.Anything, 42, mock.Anything, mock.Anything).Return(0, errors.New("403 forbidden"))
	mockRepo.On("DeletePolicy", mock.Anything, 42).Return(nil)

	_, err := svc.AddProjectConfig(context.Background(), "team", "shop", PolicyRequest{})

	var apiErr apiErrors.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apiErrors.RemoteError, apiErr.Code)
	mockRepo.AssertCalled(t, "DeletePolicy", mock.Anything, 42)
	mockRepo.AssertNotCalled(t, "SetPolicyHookID")
}

func TestUpdateProjectConfig_PartialUpdate(t *testing.T) {
	svc, mockRepo, mockSCM, _ := createTestService(t)

	existing := enabledPolicy(42)
	existing.IncludeList = []string{"old@x"}

	enabled := false
	mockSCM.On("GetProjectByPath", mock.Anything, "team", "shop").Return(testProject(), nil)
	mockRepo.On("GetPolicy", mock.Anything, 42).Return(existing, nil)
	mockRepo.On("UpdatePolicy", mock.Anything, mock.MatchedBy(func(p model.ProjectPolicy) bool {
		// Untouched fields survive a partial update.
		return !p.Enabled && len(p.IncludeList) == 1 && p.IncludeList[0] == "old@x" &&
			p.ReviewerMode == model.ReviewerModeProject
	})).Return(nil)

	policy, err := svc.UpdateProjectConfig(context.Background(), "team", "shop", PolicyRequest{Enabled: &enabled})

	assert.NoError(t, err)
	assert.False(t, policy.Enabled)
	mockRepo.AssertExpectations(t)
}

func TestDeleteProjectConfig_RemovesWebhook(t *testing.T) {
	svc, mockRepo, mockSCM, _ := createTestService(t)

	policy := enabledPolicy(42)
	policy.HookID = 77
	mockSCM.On("GetProjectByPath", mock.Anything, "team", "shop").Return(testProject(), nil)
	mockRepo.On("GetPolicy", mock.Anything, 42).Return(policy, nil)
	mockSCM.On("DeleteWebhook", mock.Anything, 42, 77).Return(nil)
	mockRepo.On("DeletePolicy", mock.Anything, 42).Return(nil)

	err := svc.DeleteProjectConfig(context.Background(), "team", "shop")

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockSCM.AssertExpectations(t)
}

func TestDeleteProjectConfig_NotConfigured(t *testing.T) {
	svc, mockRepo, mockSCM, _ := createTestService(t)

	mockSCM.On("GetProjectByPath", mock.Anything, "team", "shop").Return(testProject(), nil)
	mockRepo.On("GetPolicy", mock.Anything, 42).Return(model.ProjectPolicy{}, model.ErrNotFound)

	err := svc.DeleteProjectConfig(context.Background(), "team", "shop")

	var apiErr apiErrors.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apiErrors.NotFound, apiErr.Code)
	mockRepo.AssertNotCalled(t, "DeletePolicy")
}

func TestAddRoutingRule_Duplicate(t *testing.T) {
	svc, mockRepo, mockSCM, _ := createTestService(t)

	mockSCM.On("GetProjectByPath", mock.Anything, "team", "shop").Return(testProject(), nil)
	mockRepo.On("GetPolicy", mock.Anything, 42).Return(enabledPolicy(42), nil)
	mockRepo.On("AddRoutingRule", mock.Anything, mock.Anything).Return(model.RoutingRule{}, model.ErrDuplicate)

	_, err := svc.AddRoutingRule(context.Background(), "team", "shop", "feature/.*", "develop")

	var apiErr apiErrors.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apiErrors.RuleExists, apiErr.Code)
}

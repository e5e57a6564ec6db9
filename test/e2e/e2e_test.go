//go:build e2e

package e2e

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/supportdesk/internal/api/handlers"
	"github.com/cloo-solutions/supportdesk/internal/config"
	"github.com/cloo-solutions/supportdesk/internal/jobs"
	"github.com/cloo-solutions/supportdesk/internal/profile"
	"github.com/cloo-solutions/supportdesk/internal/repository"
	"github.com/cloo-solutions/supportdesk/internal/service"
	"github.com/cloo-solutions/supportdesk/internal/testutil"
)

type turnsResponse = Data[handlers.TurnsResponse]

func TestE2E_AskAndFollowUp(t *testing.T) {
	for _, mode := range []string{config.RetrievalModePipeline, config.RetrievalModeBackend} {
		t.Run(mode, func(t *testing.T) {
			env := SetupE2EEnv(t, mode)
			defer env.Cleanup()
			env.SeedSupportPassages()

			var first handlers.AskResponse
			status, errBody := env.Do(http.MethodPost, "/ask", map[string]any{"query": "Control 4 app won't login"}, "", &first)
			require.Equal(t, http.StatusOK, status, "%+v", errBody)

			assert.Contains(t, first.Answer, "[#1]")
			assert.False(t, first.NeedsHumanHelp)
			assert.NotEmpty(t, first.SessionID)
			assert.NotEmpty(t, first.AnswerID)
			assert.Empty(t, first.Warnings)

			require.GreaterOrEqual(t, len(first.Citations), 2)
			assert.Equal(t, 1, first.Citations[0].Index)
			assert.Equal(t, "App login troubleshooting", first.Citations[0].Title)
			assert.Equal(t, "https://support.example.com/app-login", first.Citations[0].URL)
			assert.Equal(t, "Knowledge base article", first.Citations[1].Title)
			assert.Equal(t, "#", first.Citations[1].URL)
			require.Len(t, first.Sources, len(first.Citations))
			assert.Equal(t, "p-login", first.Sources[0].ID)

			chats := env.LLM.Chats()
			require.Len(t, chats, 1)
			prompt := chats[0][len(chats[0])-1].Content
			assert.True(t, strings.HasPrefix(prompt, "QUESTION:\nControl 4 app won't login\n\nCONTEXT:\n[#1 | score="))

			var second handlers.AskResponse
			status, errBody = env.Do(http.MethodPost, "/ask", map[string]any{
				"query":      "thanks!",
				"session_id": first.SessionID,
			}, "", &second)
			require.Equal(t, http.StatusOK, status, "%+v", errBody)
			assert.False(t, second.NeedsHumanHelp)
			assert.Equal(t, first.SessionID, second.SessionID)

			// The follow-up sees the first exchange verbatim between the
			// system message and the new question.
			chats = env.LLM.Chats()
			require.Len(t, chats, 2)
			followUp := chats[1]
			require.Len(t, followUp, 4)
			assert.Equal(t, "system", followUp[0].Role)
			assert.Equal(t, "user", followUp[1].Role)
			assert.Equal(t, "Control 4 app won't login", followUp[1].Content)
			assert.Equal(t, "assistant", followUp[2].Role)
			assert.Equal(t, first.Answer, followUp[2].Content)

			var turns turnsResponse
			status, _ = env.Do(http.MethodGet, "/sessions/"+first.SessionID+"/turns", nil, "", &turns)
			require.Equal(t, http.StatusOK, status)
			require.Len(t, turns.Data.Turns, 4)
			roles := []string{}
			for _, turn := range turns.Data.Turns {
				roles = append(roles, turn.Role)
			}
			assert.Equal(t, []string{"user", "assistant", "user", "assistant"}, roles)
			assert.Equal(t, "thanks!", turns.Data.Turns[2].Content)
		})
	}
}

func TestE2E_HumanHandoff(t *testing.T) {
	env := SetupE2EEnv(t, config.RetrievalModePipeline)
	defer env.Cleanup()
	env.SeedSupportPassages()

	var resp handlers.AskResponse
	status, errBody := env.Do(http.MethodPost, "/ask", map[string]any{"query": "my thermostat is broken"}, "", &resp)
	require.Equal(t, http.StatusOK, status, "%+v", errBody)
	assert.True(t, resp.NeedsHumanHelp)

	var logged bool
	require.NoError(t, env.Pool.QueryRow(env.Ctx,
		"SELECT needs_human_help FROM answer_logs WHERE id = $1", resp.AnswerID).Scan(&logged))
	assert.True(t, logged)
}

func TestE2E_EmptyKnowledgeBase(t *testing.T) {
	env := SetupE2EEnv(t, config.RetrievalModePipeline)
	defer env.Cleanup()

	var resp handlers.AskResponse
	status, _ := env.Do(http.MethodPost, "/ask", map[string]any{"query": "hub offline after update"}, "", &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, resp.Citations)
	assert.True(t, resp.NeedsHumanHelp)

	chats := env.LLM.Chats()
	require.Len(t, chats, 1)
	assert.Contains(t, chats[0][len(chats[0])-1].Content, "CONTEXT:\n(no passages matched this question)")

	status, _ = env.Do(http.MethodPost, "/ask", map[string]any{"query": "thanks!"}, "", &resp)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, resp.NeedsHumanHelp)
}

func TestE2E_Errors(t *testing.T) {
	env := SetupE2EEnv(t, config.RetrievalModePipeline)
	defer env.Cleanup()

	t.Run("blank query", func(t *testing.T) {
		status, errBody := env.Do(http.MethodPost, "/ask", map[string]any{"query": "   "}, "", nil)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "VALIDATION_ERROR", errBody.Code)
		assert.Empty(t, env.LLM.Chats())
	})

	t.Run("all-zero weights", func(t *testing.T) {
		status, errBody := env.Do(http.MethodPost, "/ask", map[string]any{
			"query": "remote", "w_semantic": 0, "w_lexical": 0, "w_trigram": 0,
		}, "", nil)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "VALIDATION_ERROR", errBody.Code)
	})

	t.Run("embedding outage", func(t *testing.T) {
		env.LLM.FailEmbeddings(http.StatusServiceUnavailable)
		defer env.LLM.FailEmbeddings(0)

		status, errBody := env.Do(http.MethodPost, "/ask", map[string]any{"query": "remote won't pair"}, "", nil)
		assert.Equal(t, http.StatusBadGateway, status)
		assert.Equal(t, "EMBEDDING_UNAVAILABLE", errBody.Code)
		assert.Equal(t, "embedding", errBody.Dependency)
		assert.Empty(t, env.LLM.Chats())
	})

	t.Run("unknown answer feedback", func(t *testing.T) {
		status, errBody := env.Do(http.MethodPost, "/ask/feedback", map[string]any{
			"answer_id": "2b1c7a5e-3f0e-4f43-9b8e-2d8f0b6a1c11", "helpful": true,
		}, "", nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "NOT_FOUND", errBody.Code)
	})
}

func TestE2E_Feedback(t *testing.T) {
	env := SetupE2EEnv(t, config.RetrievalModePipeline)
	defer env.Cleanup()
	env.SeedSupportPassages()

	var resp handlers.AskResponse
	status, _ := env.Do(http.MethodPost, "/ask", map[string]any{"query": "remote won't pair"}, "", &resp)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, resp.AnswerID)

	status, _ = env.Do(http.MethodPost, "/ask/feedback", map[string]any{
		"answer_id": resp.AnswerID, "helpful": false, "note": "  light never blinks  ",
	}, "", nil)
	require.Equal(t, http.StatusOK, status)

	var helpful bool
	var note string
	require.NoError(t, env.Pool.QueryRow(env.Ctx,
		"SELECT helpful, feedback_note FROM answer_logs WHERE id = $1", resp.AnswerID).Scan(&helpful, &note))
	assert.False(t, helpful)
	assert.Equal(t, "light never blinks", note)
}

func TestE2E_ProfilePublishAndReload(t *testing.T) {
	env := SetupE2EEnv(t, config.RetrievalModePipeline)
	defer env.Cleanup()

	status, _ := env.Do(http.MethodGet, "/admin/profile", nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	var before Data[service.ProfileInfo]
	status, _ = env.Do(http.MethodGet, "/admin/profile", nil, adminToken, &before)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "default", before.Data.Name)

	published := bytes.Replace(profile.Default(), []byte(`name = "default"`), []byte(`name = "support-eu"`), 1)
	published = append(published, []byte("\n[[rewrites]]\npattern = '''\\bthermo\\b'''\nreplacement = \"thermostat\"\n")...)
	require.NoError(t, env.S3Client.PutObject(env.Ctx, profileKey, published, "application/toml"))

	var reload Data[handlers.ReloadResponse]
	status, errBody := env.Do(http.MethodPost, "/admin/profile/reload", nil, adminToken, &reload)
	require.Equal(t, http.StatusOK, status, "%+v", errBody)
	assert.True(t, reload.Data.Changed)
	assert.Equal(t, "support-eu", reload.Data.Profile.Name)
	assert.NotEqual(t, before.Data.NormalizerVersion, reload.Data.Profile.NormalizerVersion)

	var preview Data[service.NormalizePreview]
	status, _ = env.Do(http.MethodPost, "/admin/normalize", map[string]any{"text": "Thermo won't connect"}, adminToken, &preview)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "thermostat cannot connect", preview.Data.Normalized)

	// A broken document keeps the active profile.
	require.NoError(t, env.S3Client.PutObject(env.Ctx, profileKey, []byte("name = [unterminated"), "application/toml"))
	status, errBody = env.Do(http.MethodPost, "/admin/profile/reload", nil, adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", errBody.Code)
	assert.Equal(t, "support-eu", env.Profiles.Current().Profile.Name)
}

func TestE2E_Renormalization(t *testing.T) {
	env := SetupE2EEnv(t, config.RetrievalModePipeline)
	defer env.Cleanup()

	require.NoError(t, testutil.InsertPassages(env.Ctx, env.Pool, testutil.SeedPassage{
		ID:                   "p-stale",
		Content:              "If the Wi-Fi light is off, the hub can't reach the router.",
		NormalizedContent:    "if the wi-fi light is off, the hub can't reach the router.",
		NormalizationVersion: "legacy",
		Embedding:            testutil.UnitVector(dim, 3),
	}))

	worker := jobs.NewRenormalizeWorker(repository.NewPassageRepository(env.Pool), env.Profiles, 10, nil)
	stats, err := worker.Run(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Zero(t, stats.Failed)

	var normalized, version string
	require.NoError(t, env.Pool.QueryRow(env.Ctx,
		"SELECT normalized_content, normalization_version FROM passages WHERE id = 'p-stale'").Scan(&normalized, &version))
	assert.Equal(t, "if the wifi light is off, the hub cannot reach the router.", normalized)
	assert.Equal(t, env.Profiles.Current().Normalizer.Version(), version)
}

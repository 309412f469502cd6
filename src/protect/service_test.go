package protect

import (
	"context"
	"testing"

	"github.com/odysseia/protect/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) attachment(threadID, authorID string, data []byte) PlatformAttachment {
	messageID := e.platform.addMessage(threadID, authorID, "", &File{Name: "mod.zip", ContentType: "application/zip", Data: data})
	msg, _ := e.platform.GetMessage(context.Background(), threadID, messageID)
	return msg.Attachments[0]
}

func TestConsent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	threadID := env.newPublicThread("author")

	needs, err := env.service.NeedsConsent(ctx, "author")
	require.NoError(t, err)
	assert.True(t, needs)

	_, err = env.service.UploadProtected(ctx, UploadProtectedRequest{
		RequesterID:    "author",
		PublicThreadID: threadID,
		Attachment:     env.attachment(threadID, "author", []byte("data")),
	})
	assert.ErrorIs(t, err, ErrConsentRequired)
	assert.Empty(t, env.platform.archiveThreads)

	require.NoError(t, env.service.AcceptPrivacyPolicy(ctx, "author"))
	needs, err = env.service.NeedsConsent(ctx, "author")
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestUploadProtected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	threadID := env.newPublicThread("author")
	require.NoError(t, env.service.AcceptPrivacyPolicy(ctx, "author"))
	require.NoError(t, env.service.AcceptPrivacyPolicy(ctx, "intruder"))

	t.Run("thread owner may claim the thread", func(t *testing.T) {
		_, err := env.service.UploadProtected(ctx, UploadProtectedRequest{
			RequesterID:    "intruder",
			PublicThreadID: threadID,
			ThreadOwnerID:  "author",
			Attachment:     env.attachment(threadID, "intruder", []byte("data")),
		})
		assert.ErrorIs(t, err, ErrNotAuthor)
	})
	t.Run("uploads and mirrors", func(t *testing.T) {
		resource, err := env.service.UploadProtected(ctx, UploadProtectedRequest{
			RequesterID:    "author",
			PublicThreadID: threadID,
			ThreadTitle:    "My mod",
			ThreadOwnerID:  "author",
			Attachment:     env.attachment(threadID, "author", []byte("data")),
			Password:       "",
		})
		require.NoError(t, err)
		assert.Equal(t, models.ResourceModeProtected, resource.Mode)
		assert.Equal(t, models.DefaultVersion, resource.Version)
		assert.Nil(t, resource.Password)
		assert.Equal(t, "mod.zip", resource.Filename)
	})
	t.Run("other users cannot add to an owned thread", func(t *testing.T) {
		_, err := env.service.UploadProtected(ctx, UploadProtectedRequest{
			RequesterID:    "intruder",
			PublicThreadID: threadID,
			Attachment:     env.attachment(threadID, "intruder", []byte("data")),
		})
		assert.ErrorIs(t, err, ErrNotAuthor)
	})
	t.Run("size limit", func(t *testing.T) {
		_, err := env.service.UploadProtected(ctx, UploadProtectedRequest{
			RequesterID:    "author",
			PublicThreadID: threadID,
			Attachment:     env.attachment(threadID, "author", make([]byte, 2048)),
		})
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})
	t.Run("password", func(t *testing.T) {
		resource, err := env.service.UploadProtected(ctx, UploadProtectedRequest{
			RequesterID:    "author",
			PublicThreadID: threadID,
			Attachment:     env.attachment(threadID, "author", []byte("data")),
			Version:        "2.0",
			Password:       "open sesame",
		})
		require.NoError(t, err)
		require.NotNil(t, resource.Password)
		assert.Equal(t, "open sesame", *resource.Password)
		assert.Equal(t, "2.0", resource.Version)
	})
}

func TestUploadNormal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	threadID := env.newPublicThread("author")
	otherThreadID := env.newPublicThread("author")
	require.NoError(t, env.service.AcceptPrivacyPolicy(ctx, "author"))

	messageID := env.platform.addMessage(threadID, "author", "Download mirror for the new build", nil)
	link := "here it is: https://discord.com/channels/1/" + threadID + "/" + messageID + " thanks"

	t.Run("indexes without copying", func(t *testing.T) {
		resource, err := env.service.UploadNormal(ctx, UploadNormalRequest{
			RequesterID:    "author",
			PublicThreadID: threadID,
			MessageLink:    link,
		})
		require.NoError(t, err)
		assert.Equal(t, models.ResourceModeNormal, resource.Mode)
		assert.Equal(t, messageID, resource.CarrierMessageID)
		assert.Equal(t, "Download mirror for the new build", resource.Filename)
		assert.Empty(t, env.platform.posted)
		assert.Empty(t, env.platform.archiveThreads)
	})
	t.Run("link must point into the thread", func(t *testing.T) {
		_, err := env.service.UploadNormal(ctx, UploadNormalRequest{
			RequesterID:    "author",
			PublicThreadID: otherThreadID,
			MessageLink:    link,
		})
		assert.ErrorIs(t, err, ErrMessageOutsideThread)
	})
	t.Run("invalid link", func(t *testing.T) {
		_, err := env.service.UploadNormal(ctx, UploadNormalRequest{
			RequesterID:    "author",
			PublicThreadID: threadID,
			MessageLink:    "no link at all",
		})
		assert.ErrorIs(t, err, ErrInvalidMessageLink)
	})
	t.Run("missing message", func(t *testing.T) {
		_, err := env.service.UploadNormal(ctx, UploadNormalRequest{
			RequesterID:    "author",
			PublicThreadID: threadID,
			MessageLink:    "https://discord.com/channels/1/" + threadID + "/999999",
		})
		var unavailable *Unavailable
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, ReasonMessageNotFound, unavailable.Reason)
	})
}

func TestArchiveMessage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	threadID := env.newPublicThread("author")
	require.NoError(t, env.service.AcceptPrivacyPolicy(ctx, "author"))

	t.Run("keeps the original by default", func(t *testing.T) {
		messageID := env.platform.addMessage(threadID, "author", "", &File{Name: "v1.zip", Data: []byte("v1")})
		result, err := env.service.ArchiveMessage(ctx, ArchiveMessageRequest{
			RequesterID:    "author",
			PublicThreadID: threadID,
			MessageID:      messageID,
		})
		require.NoError(t, err)
		assert.False(t, result.OriginalDeleted)
		assert.Equal(t, "v1.zip", result.Resource.Filename)
		assert.True(t, env.platform.hasMessage(threadID, messageID))
	})
	t.Run("quick mode deletes the original", func(t *testing.T) {
		_, err := env.service.SetQuickMode(ctx, "author", threadID, true)
		require.NoError(t, err)

		messageID := env.platform.addMessage(threadID, "author", "", &File{Name: "v2.zip", Data: []byte("v2")})
		result, err := env.service.ArchiveMessage(ctx, ArchiveMessageRequest{
			RequesterID:    "author",
			PublicThreadID: threadID,
			MessageID:      messageID,
		})
		require.NoError(t, err)
		assert.True(t, result.OriginalDeleted)
		assert.False(t, env.platform.hasMessage(threadID, messageID))

		link, err := env.service.Download(ctx, DownloadRequest{RequesterID: "reader", ResourceID: result.Resource.ID})
		require.NoError(t, err)
		assert.Contains(t, link.URL, "v2.zip")
	})
	t.Run("message without attachment", func(t *testing.T) {
		messageID := env.platform.addMessage(threadID, "author", "just text", nil)
		_, err := env.service.ArchiveMessage(ctx, ArchiveMessageRequest{
			RequesterID:    "author",
			PublicThreadID: threadID,
			MessageID:      messageID,
		})
		var unavailable *Unavailable
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, ReasonAttachmentMissing, unavailable.Reason)
	})
}

func TestManagementIsAuthorOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	threadID := env.newPublicThread("author")
	resource := env.createProtected(t, threadID, "author", strp("old"))

	_, err := env.service.UpdateResource(ctx, UpdateResourceRequest{RequesterID: "someone", ResourceID: resource.ID, Version: strp("9")})
	assert.ErrorIs(t, err, ErrNotAuthor)
	_, err = env.service.DeleteResource(ctx, "someone", resource.ID)
	assert.ErrorIs(t, err, ErrNotAuthor)
	_, err = env.service.SetReactionWall(ctx, "someone", threadID, true, "")
	assert.ErrorIs(t, err, ErrNotAuthor)
	_, err = env.service.SetQuickMode(ctx, "someone", threadID, true)
	assert.ErrorIs(t, err, ErrNotAuthor)

	_, err = env.store.GetResource(ctx, resource.ID)
	assert.NoError(t, err)
	assert.Empty(t, env.platform.deletedMessages())
}

func TestUpdateResource(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	threadID := env.newPublicThread("author")
	resource := env.createProtected(t, threadID, "author", strp("old"))

	updated, err := env.service.UpdateResource(ctx, UpdateResourceRequest{RequesterID: "author", ResourceID: resource.ID, Version: strp("2.0")})
	require.NoError(t, err)
	assert.Equal(t, "2.0", updated.Version)
	require.NotNil(t, updated.Password)
	assert.Equal(t, "old", *updated.Password)

	updated, err = env.service.UpdateResource(ctx, UpdateResourceRequest{RequesterID: "author", ResourceID: resource.ID, Password: strp("new")})
	require.NoError(t, err)
	assert.Equal(t, "new", *updated.Password)

	updated, err = env.service.UpdateResource(ctx, UpdateResourceRequest{RequesterID: "author", ResourceID: resource.ID, Password: strp("")})
	require.NoError(t, err)
	assert.Nil(t, updated.Password)
	assert.Equal(t, resource.CarrierMessageID, updated.CarrierMessageID)

	normal := env.createNormal(t, threadID, "author", true)
	_, err = env.service.UpdateResource(ctx, UpdateResourceRequest{RequesterID: "author", ResourceID: normal.ID, Password: strp("secret")})
	assert.ErrorIs(t, err, ErrPasswordOnNormal)
	stored, err := env.store.GetResource(ctx, normal.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Password)

	updated, err = env.service.UpdateResource(ctx, UpdateResourceRequest{RequesterID: "author", ResourceID: normal.ID, Password: strp(""), Version: strp("3.0")})
	require.NoError(t, err)
	assert.Equal(t, "3.0", updated.Version)
}

func TestSetReactionWall(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	threadID := env.newPublicThread("author")
	env.createProtected(t, threadID, "author", nil)

	_, err := env.service.SetReactionWall(ctx, "author", threadID, true, "not an emoji")
	assert.ErrorIs(t, err, ErrInvalidEmoji)

	thread, err := env.service.SetReactionWall(ctx, "author", threadID, true, " 👍 ")
	require.NoError(t, err)
	assert.True(t, thread.ReactionRequired)
	require.NotNil(t, thread.RequiredEmoji)
	assert.Equal(t, "👍", *thread.RequiredEmoji)

	thread, err = env.service.SetReactionWall(ctx, "author", threadID, true, "\u2764\uFE0F")
	require.NoError(t, err)
	require.NotNil(t, thread.RequiredEmoji)
	assert.Equal(t, "\u2764\uFE0F", *thread.RequiredEmoji)

	thread, err = env.service.SetReactionWall(ctx, "author", threadID, false, "👍")
	require.NoError(t, err)
	assert.False(t, thread.ReactionRequired)
	assert.Nil(t, thread.RequiredEmoji)

	_, err = env.service.SetReactionWall(ctx, "author", "404", true, "")
	assert.ErrorIs(t, err, NotFound)
}

func TestListResources(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	threadID := env.newPublicThread("author")
	env.createNormal(t, threadID, "author", true)
	env.createProtected(t, threadID, "author", nil)
	env.createProtected(t, threadID, "author", nil)

	thread, list, err := env.service.ListResources(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, threadID, thread.PublicThreadID)
	assert.Len(t, list.Normal, 1)
	assert.Len(t, list.Protected, 2)

	_, _, err = env.service.ListResources(ctx, "404")
	assert.ErrorIs(t, err, NotFound)
}

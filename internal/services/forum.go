package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
)

const (
	maxTitleRunes         = 200
	searchThreadLimit     = 10
	statsRecentThreads    = 5
	statsRecentPosts      = 10
	overviewRecentItems   = 5
	overviewActiveMembers = 5
)

var slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// ForumRepository defines persistence operations for the forum.
type ForumRepository interface {
	ListCategories(ctx context.Context) ([]types.Category, error)
	GetCategory(ctx context.Context, id int) (types.Category, error)
	CreateCategory(ctx context.Context, category types.Category) (types.Category, error)
	UpdateCategory(ctx context.Context, category types.Category) (types.Category, error)
	UpsertCategory(ctx context.Context, category types.Category) (types.Category, error)
	DeleteCategory(ctx context.Context, id int) error
	CountThreadsInCategory(ctx context.Context, categoryID int) (int, error)
	ListThreads(ctx context.Context, categoryID, offset, limit int) ([]types.Thread, int, error)
	GetThread(ctx context.Context, id int) (types.Thread, error)
	CreateThread(ctx context.Context, thread types.Thread, content string) (types.Thread, error)
	UpdateThread(ctx context.Context, thread types.Thread) (types.Thread, error)
	DeleteThread(ctx context.Context, threadID int) error
	IncrementViews(ctx context.Context, threadID int) error
	SearchThreads(ctx context.Context, term string, limit int) ([]types.Thread, error)
	RecentThreads(ctx context.Context, authorID, limit int) ([]types.Thread, error)
	ListPosts(ctx context.Context, threadID, viewerID int) ([]types.Post, error)
	GetPost(ctx context.Context, id int) (types.Post, error)
	CreateReply(ctx context.Context, post types.Post) (types.Post, error)
	UpdatePostContent(ctx context.Context, postID int, content string, editorID int, at time.Time) (types.Post, error)
	DeleteReply(ctx context.Context, post types.Post) error
	ToggleLike(ctx context.Context, postID, userID int) (bool, int, error)
	SearchPosts(ctx context.Context, term string, offset, limit int) ([]types.Post, int, error)
	RecentPosts(ctx context.Context, authorID, limit int) ([]types.Post, error)
	LikesReceived(ctx context.Context, userID int) (int, error)
	Totals(ctx context.Context) (categories, threads, posts int, err error)
	MostActiveUsers(ctx context.Context, limit int) ([]types.ActiveMember, error)
}

// NoticeSender delivers best-effort notifications.
type NoticeSender interface {
	Deliver(ctx context.Context, notice Notice)
}

type CategoryInput struct {
	Name        string `json:"name" yaml:"name"`
	Slug        string `json:"slug" yaml:"slug"`
	Description string `json:"description" yaml:"description"`
	Order       int    `json:"order" yaml:"order"`
}

type ThreadInput struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	CategoryID int    `json:"categoryId"`
}

type LikeResult struct {
	Liked bool `json:"liked"`
	Likes int  `json:"likes"`
}

// ForumService implements categories, threads, posts and likes.
type ForumService struct {
	repo    ForumRepository
	users   UserRepository
	notices NoticeSender
	audit   *Auditor
	logger  *zap.Logger
	now     func() time.Time
}

func NewForumService(repo ForumRepository, users UserRepository, notices NoticeSender, audit *Auditor, logger *zap.Logger) *ForumService {
	return &ForumService{
		repo:    repo,
		users:   users,
		notices: notices,
		audit:   audit,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *ForumService) Categories(ctx context.Context) ([]types.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *ForumService) CreateCategory(ctx context.Context, input CategoryInput) (types.Category, error) {
	category, err := categoryFromInput(input)
	if err != nil {
		return types.Category{}, err
	}
	created, err := s.repo.CreateCategory(ctx, category)
	if errors.Is(err, store.ErrConflict) {
		return types.Category{}, conflict("A category with slug %q already exists", category.Slug)
	}
	return created, err
}

func (s *ForumService) UpdateCategory(ctx context.Context, id int, input CategoryInput) (types.Category, error) {
	category, err := categoryFromInput(input)
	if err != nil {
		return types.Category{}, err
	}
	category.ID = id
	updated, err := s.repo.UpdateCategory(ctx, category)
	switch {
	case errors.Is(err, store.ErrConflict):
		return types.Category{}, conflict("A category with slug %q already exists", category.Slug)
	case err != nil:
		return types.Category{}, notFoundAs(err, "Category not found")
	}
	return updated, nil
}

// UpsertCategory creates or updates the category keyed by its slug.
func (s *ForumService) UpsertCategory(ctx context.Context, input CategoryInput) (types.Category, error) {
	category, err := categoryFromInput(input)
	if err != nil {
		return types.Category{}, err
	}
	return s.repo.UpsertCategory(ctx, category)
}

func (s *ForumService) DeleteCategory(ctx context.Context, id int) error {
	if _, err := s.repo.GetCategory(ctx, id); err != nil {
		return notFoundAs(err, "Category not found")
	}
	threads, err := s.repo.CountThreadsInCategory(ctx, id)
	if err != nil {
		return err
	}
	if threads > 0 {
		return invalid("Cannot delete a category that still contains threads")
	}
	return notFoundAs(s.repo.DeleteCategory(ctx, id), "Category not found")
}

func (s *ForumService) Threads(ctx context.Context, categoryID, offset, limit int) ([]types.Thread, int, error) {
	if _, err := s.repo.GetCategory(ctx, categoryID); err != nil {
		return nil, 0, notFoundAs(err, "Category not found")
	}
	return s.repo.ListThreads(ctx, categoryID, offset, limit)
}

func (s *ForumService) CreateThread(ctx context.Context, authorID int, input ThreadInput) (types.Thread, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleRunes {
		return types.Thread{}, invalid("Title must be between 1 and %d characters", maxTitleRunes)
	}
	if strings.TrimSpace(input.Content) == "" {
		return types.Thread{}, invalid("Content is required")
	}
	if input.CategoryID <= 0 {
		return types.Thread{}, invalid("Category is required")
	}
	if _, err := s.actingUser(ctx, authorID); err != nil {
		return types.Thread{}, err
	}
	if _, err := s.repo.GetCategory(ctx, input.CategoryID); err != nil {
		return types.Thread{}, notFoundAs(err, "Category not found")
	}

	return s.repo.CreateThread(ctx, types.Thread{
		Title:      title,
		CategoryID: input.CategoryID,
		AuthorID:   authorID,
	}, input.Content)
}

// Thread returns a thread with its posts and counts the view.
func (s *ForumService) Thread(ctx context.Context, viewerID, id int) (types.ThreadDetail, error) {
	thread, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return types.ThreadDetail{}, notFoundAs(err, "Thread not found")
	}
	if err := s.repo.IncrementViews(ctx, id); err != nil {
		s.logger.Warn("failed to count thread view", zap.Int("thread_id", id), zap.Error(err))
	} else {
		thread.Views++
	}
	posts, err := s.repo.ListPosts(ctx, id, viewerID)
	if err != nil {
		return types.ThreadDetail{}, err
	}
	return types.ThreadDetail{Thread: thread, Posts: posts}, nil
}

// UpdateThread lets the author retitle a thread. Pinning, locking and moving
// need moderator rights and are audited.
func (s *ForumService) UpdateThread(ctx context.Context, actor types.Actor, id int, patch types.ThreadPatch) (types.Thread, error) {
	user, err := s.actingUser(ctx, actor.UserID)
	if err != nil {
		return types.Thread{}, err
	}
	thread, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return types.Thread{}, notFoundAs(err, "Thread not found")
	}

	moderator := user.CanModerate()
	if thread.AuthorID != user.ID && !moderator {
		return types.Thread{}, forbidden("Not authorized to edit this thread")
	}
	if !moderator && (patch.Pinned != nil || patch.Locked != nil || patch.CategoryID != nil) {
		return types.Thread{}, forbidden("Only moderators can pin, lock or move threads")
	}
	return s.applyThreadPatch(ctx, actor, thread, patch)
}

// ModerateThread applies moderator-only thread changes.
func (s *ForumService) ModerateThread(ctx context.Context, actor types.Actor, id int, patch types.ThreadPatch) (types.Thread, error) {
	user, err := s.actingUser(ctx, actor.UserID)
	if err != nil {
		return types.Thread{}, err
	}
	if !user.CanModerate() {
		return types.Thread{}, forbidden("Moderator access required")
	}
	thread, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return types.Thread{}, notFoundAs(err, "Thread not found")
	}
	patch.Title = nil
	return s.applyThreadPatch(ctx, actor, thread, patch)
}

func (s *ForumService) applyThreadPatch(ctx context.Context, actor types.Actor, thread types.Thread, patch types.ThreadPatch) (types.Thread, error) {
	var actions []string

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" || utf8.RuneCountInString(title) > maxTitleRunes {
			return types.Thread{}, invalid("Title must be between 1 and %d characters", maxTitleRunes)
		}
		thread.Title = title
	}
	if patch.Pinned != nil && *patch.Pinned != thread.Pinned {
		thread.Pinned = *patch.Pinned
		actions = append(actions, pick(thread.Pinned, types.AuditForumPin, types.AuditForumUnpin))
	}
	if patch.Locked != nil && *patch.Locked != thread.Locked {
		thread.Locked = *patch.Locked
		actions = append(actions, pick(thread.Locked, types.AuditForumLock, types.AuditForumUnlock))
	}

	fromCategory := thread.CategoryID
	if patch.CategoryID != nil && *patch.CategoryID != thread.CategoryID {
		if _, err := s.repo.GetCategory(ctx, *patch.CategoryID); err != nil {
			return types.Thread{}, notFoundAs(err, "Category not found")
		}
		thread.CategoryID = *patch.CategoryID
		actions = append(actions, types.AuditForumMove)
	}

	updated, err := s.repo.UpdateThread(ctx, thread)
	if err != nil {
		return types.Thread{}, notFoundAs(err, "Thread not found")
	}

	for _, action := range actions {
		var details any
		if action == types.AuditForumMove {
			details = map[string]int{"from_category": fromCategory, "to_category": thread.CategoryID}
		}
		s.audit.Record(ctx, actor, action, AuditTarget{User: thread.AuthorID, Thread: thread.ID}, details)
	}
	return updated, nil
}

func (s *ForumService) DeleteThread(ctx context.Context, actor types.Actor, id int) error {
	user, err := s.actingUser(ctx, actor.UserID)
	if err != nil {
		return err
	}
	thread, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return notFoundAs(err, "Thread not found")
	}
	if thread.AuthorID != user.ID && !user.CanModerate() {
		return forbidden("Not authorized to delete this thread")
	}
	return s.deleteThread(ctx, actor, thread)
}

func (s *ForumService) deleteThread(ctx context.Context, actor types.Actor, thread types.Thread) error {
	if err := s.repo.DeleteThread(ctx, thread.ID); err != nil {
		return notFoundAs(err, "Thread not found")
	}
	if thread.AuthorID != actor.UserID {
		s.audit.Record(ctx, actor, types.AuditDeleteThread,
			AuditTarget{User: thread.AuthorID, Thread: thread.ID},
			map[string]string{"title": thread.Title},
		)
	}
	return nil
}

func (s *ForumService) Reply(ctx context.Context, authorID, threadID int, content string) (types.Post, error) {
	if strings.TrimSpace(content) == "" {
		return types.Post{}, invalid("Content is required")
	}
	user, err := s.actingUser(ctx, authorID)
	if err != nil {
		return types.Post{}, err
	}
	thread, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return types.Post{}, notFoundAs(err, "Thread not found")
	}
	if thread.Locked && !user.CanModerate() {
		return types.Post{}, forbidden("Thread is locked")
	}

	post, err := s.repo.CreateReply(ctx, types.Post{
		ThreadID: threadID,
		AuthorID: authorID,
		Content:  content,
	})
	if err != nil {
		return types.Post{}, notFoundAs(err, "Thread not found")
	}

	if thread.AuthorID != authorID {
		s.notices.Deliver(ctx, Notice{
			RecipientID: thread.AuthorID,
			SenderID:    authorID,
			Type:        types.NotifyForumReply,
			Message:     fmt.Sprintf("%s replied to your thread %q", user.Username, thread.Title),
			Data:        map[string]int{"thread_id": thread.ID, "post_id": post.ID},
		})
	}
	return post, nil
}

func (s *ForumService) EditPost(ctx context.Context, actorID, postID int, content string) (types.Post, error) {
	if strings.TrimSpace(content) == "" {
		return types.Post{}, invalid("Content is required")
	}
	user, err := s.actingUser(ctx, actorID)
	if err != nil {
		return types.Post{}, err
	}
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return types.Post{}, notFoundAs(err, "Post not found")
	}
	moderator := user.CanModerate()
	if post.AuthorID != actorID && !moderator {
		return types.Post{}, forbidden("Not authorized to edit this post")
	}
	if !moderator {
		thread, err := s.repo.GetThread(ctx, post.ThreadID)
		if err != nil {
			return types.Post{}, notFoundAs(err, "Thread not found")
		}
		if thread.Locked {
			return types.Post{}, forbidden("Thread is locked")
		}
	}
	updated, err := s.repo.UpdatePostContent(ctx, postID, content, actorID, s.now())
	if err != nil {
		return types.Post{}, notFoundAs(err, "Post not found")
	}
	return updated, nil
}

// DeletePost removes a post. Deleting a thread's first post deletes the
// thread; the returned flag reports that case.
func (s *ForumService) DeletePost(ctx context.Context, actor types.Actor, postID int) (bool, error) {
	user, err := s.actingUser(ctx, actor.UserID)
	if err != nil {
		return false, err
	}
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return false, notFoundAs(err, "Post not found")
	}
	if post.AuthorID != user.ID && !user.CanModerate() {
		return false, forbidden("Not authorized to delete this post")
	}
	thread, err := s.repo.GetThread(ctx, post.ThreadID)
	if err != nil {
		return false, notFoundAs(err, "Thread not found")
	}

	if thread.FirstPostID != nil && *thread.FirstPostID == post.ID {
		return true, s.deleteThread(ctx, actor, thread)
	}

	if err := s.repo.DeleteReply(ctx, post); err != nil {
		return false, notFoundAs(err, "Post not found")
	}
	if post.AuthorID != actor.UserID {
		s.audit.Record(ctx, actor, types.AuditDeletePost,
			AuditTarget{User: post.AuthorID, Thread: post.ThreadID, Post: post.ID}, nil)
	}
	return false, nil
}

func (s *ForumService) ToggleLike(ctx context.Context, userID, postID int) (LikeResult, error) {
	liker, err := s.actingUser(ctx, userID)
	if err != nil {
		return LikeResult{}, err
	}
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return LikeResult{}, notFoundAs(err, "Post not found")
	}
	liked, likes, err := s.repo.ToggleLike(ctx, postID, userID)
	if err != nil {
		return LikeResult{}, err
	}

	if liked && post.AuthorID != userID {
		s.notices.Deliver(ctx, Notice{
			RecipientID: post.AuthorID,
			SenderID:    userID,
			Type:        types.NotifyPostLike,
			Message:     liker.Username + " liked your post",
			Data:        map[string]int{"thread_id": post.ThreadID, "post_id": post.ID},
		})
	}
	return LikeResult{Liked: liked, Likes: likes}, nil
}

func (s *ForumService) Search(ctx context.Context, query string, offset, limit int) (types.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return types.SearchResult{}, invalid("Search query is required")
	}
	threads, err := s.repo.SearchThreads(ctx, query, searchThreadLimit)
	if err != nil {
		return types.SearchResult{}, err
	}
	posts, total, err := s.repo.SearchPosts(ctx, query, offset, limit)
	if err != nil {
		return types.SearchResult{}, err
	}
	return types.SearchResult{Threads: threads, Posts: posts, Total: total}, nil
}

func (s *ForumService) UserStats(ctx context.Context, userID int) (types.UserForumStats, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return types.UserForumStats{}, notFoundAs(err, "User not found")
	}
	threads, err := s.repo.RecentThreads(ctx, userID, statsRecentThreads)
	if err != nil {
		return types.UserForumStats{}, err
	}
	posts, err := s.repo.RecentPosts(ctx, userID, statsRecentPosts)
	if err != nil {
		return types.UserForumStats{}, err
	}
	likes, err := s.repo.LikesReceived(ctx, userID)
	if err != nil {
		return types.UserForumStats{}, err
	}
	return types.UserForumStats{
		User:          user.Summary(),
		PostCount:     user.PostCount,
		ThreadCount:   user.ThreadCount,
		Reputation:    user.Reputation,
		Vouches:       user.Vouches,
		LikesReceived: likes,
		RecentThreads: threads,
		RecentPosts:   posts,
	}, nil
}

// Overview summarises forum activity for moderators.
func (s *ForumService) Overview(ctx context.Context) (types.ForumStats, error) {
	categories, threads, posts, err := s.repo.Totals(ctx)
	if err != nil {
		return types.ForumStats{}, err
	}
	users, err := s.users.Count(ctx)
	if err != nil {
		return types.ForumStats{}, err
	}
	recentThreads, err := s.repo.RecentThreads(ctx, 0, overviewRecentItems)
	if err != nil {
		return types.ForumStats{}, err
	}
	recentPosts, err := s.repo.RecentPosts(ctx, 0, overviewRecentItems)
	if err != nil {
		return types.ForumStats{}, err
	}
	active, err := s.repo.MostActiveUsers(ctx, overviewActiveMembers)
	if err != nil {
		return types.ForumStats{}, err
	}
	return types.ForumStats{
		Categories:      categories,
		Threads:         threads,
		Posts:           posts,
		Users:           users,
		RecentThreads:   recentThreads,
		RecentPosts:     recentPosts,
		MostActiveUsers: active,
	}, nil
}

func (s *ForumService) actingUser(ctx context.Context, id int) (types.User, error) {
	return activeUser(ctx, s.users, id)
}

func categoryFromInput(input CategoryInput) (types.Category, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return types.Category{}, invalid("Category name is required")
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = slugify(name)
	} else {
		slug = slugify(slug)
	}
	if slug == "" {
		return types.Category{}, invalid("Category slug is invalid")
	}
	return types.Category{
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(input.Description),
		Order:       input.Order,
	}, nil
}

func slugify(value string) string {
	return strings.Trim(slugSeparators.ReplaceAllString(strings.ToLower(value), "-"), "-")
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

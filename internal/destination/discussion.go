package destination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"missionline/internal/domain"
	"missionline/internal/platform"
)

// Discussion submits an image post with a details comment. Posts cannot be edited,
// so an edit flags the old post sensitive and submits a fresh one.
type Discussion struct {
	Site         platform.Discussion
	Images       platform.Images
	StoppedLabel string
	Logger       *slog.Logger
}

func (a Discussion) Name() string { return "discussion" }

func (a Discussion) Used(s domain.DestinationState) bool { return s.Discussion.Posted() }

func (a Discussion) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a Discussion) submit(ctx context.Context, req Request) (domain.DiscussionState, error) {
	image, err := a.Images.Render(ctx, req.Carrier, req.Params, platform.SizeDiscussion)
	if err != nil {
		return domain.DiscussionState{}, fmt.Errorf("render discussion image: %w", err)
	}
	post, err := a.Site.SubmitPost(ctx, DiscussionTitle(req.Carrier, req.Params), image)
	if err != nil {
		return domain.DiscussionState{}, fmt.Errorf("submit post: %w", err)
	}
	st := domain.DiscussionState{PostID: post.ID, PostURL: post.URL}
	comment, err := a.Site.Reply(ctx, post.ID, DiscussionBody(req.Carrier, req.Params))
	if err != nil {
		// The post exists; keep it tracked so it can be retired later.
		a.logger().Warn("discussion details comment failed", "post", post.ID, "error", err)
		return st, nil
	}
	st.CommentID, st.CommentURL = comment.ID, comment.URL
	return st, nil
}

func (a Discussion) Create(ctx context.Context, req Request, state domain.DestinationState) (domain.DestinationState, error) {
	st, err := a.submit(ctx, req)
	if err != nil {
		return state, err
	}
	state.Discussion = st
	return state, nil
}

func (a Discussion) Edit(ctx context.Context, req Request, state domain.DestinationState) (domain.DestinationState, error) {
	if state.Discussion.Posted() {
		err := a.Site.MarkSensitive(ctx, state.Discussion.PostID)
		if err != nil && !errors.Is(err, platform.ErrNotFound) {
			return state, fmt.Errorf("flag old post: %w", err)
		}
	}
	st, err := a.submit(ctx, req)
	if err != nil {
		return state, err
	}
	state.Discussion = st
	return state, nil
}

func (a Discussion) Retire(ctx context.Context, req Request, state domain.DestinationState, reason Reason) error {
	if !state.Discussion.Posted() {
		return nil
	}
	id := state.Discussion.PostID
	if _, err := a.Site.Reply(ctx, id, ClosingText(req.Carrier, reason)); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			a.logger().Info("discussion post already removed", "post", id)
			return nil
		}
		return fmt.Errorf("closing comment: %w", err)
	}
	label := a.StoppedLabel
	if label == "" {
		label = "stopped"
	}
	if err := a.Site.SetLabel(ctx, id, label); err != nil && !errors.Is(err, platform.ErrNotFound) {
		return fmt.Errorf("relabel post: %w", err)
	}
	return nil
}

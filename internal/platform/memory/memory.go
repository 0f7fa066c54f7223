// Package memory is an in-process implementation of every platform port. It
// backs the test suites and `ml serve --platform local`, and supports fault
// injection per operation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"missionline/internal/domain"
	"missionline/internal/platform"
)

// Operation names accepted by FailNext, FailAlways and Calls.
const (
	OpSendMessage   = "chat.send"
	OpEditMessage   = "chat.edit"
	OpDeleteMessage = "chat.delete"
	OpCreateChannel = "chat.create_channel"
	OpFindChannel   = "chat.find_channel"
	OpDeleteChannel = "chat.delete_channel"
	OpListChannels  = "chat.list_channels"
	OpWaitForInput  = "chat.wait"
	OpSendDirect    = "members.dm"
	OpAddRole       = "members.add_role"
	OpRemoveRole    = "members.remove_role"
	OpHasRole       = "members.has_role"
	OpSubmitPost    = "discussion.submit"
	OpReply         = "discussion.reply"
	OpSetLabel      = "discussion.label"
	OpMarkSensitive = "discussion.sensitive"
	OpWebhookPost   = "webhook.post"
	OpWebhookEdit   = "webhook.edit"
	OpHasImage      = "images.has"
	OpStoreImage    = "images.store"
	OpRender        = "images.render"
	OpArchive       = "images.archive"
)

type channel struct {
	id       string
	name     string
	category string
	order    []string
	messages map[string]platform.Message
}

// PostRecord is the stored view of a discussion submission.
type PostRecord struct {
	ID        string
	Title     string
	Image     string
	URL       string
	Labels    []string
	Sensitive bool
	Replies   []string
}

type Platform struct {
	// BeforeCall, when set, runs before every operation outside the internal lock.
	// Tests use it to park a goroutine inside a platform call.
	BeforeCall func(op string)

	mu        sync.Mutex
	seq       int
	channels  map[string]*channel
	dms       map[string][]platform.Message
	dmRefused map[string]bool
	roles     map[string]map[string]bool
	posts     map[string]*PostRecord
	hooks     map[string]map[string]platform.Message
	images    map[string]bool
	archived  map[string]bool
	renders   int
	inputs    map[string]chan platform.Input
	once      map[string][]error
	always    map[string]error
	calls     map[string]int
}

func New() *Platform {
	return &Platform{
		channels:  map[string]*channel{},
		dms:       map[string][]platform.Message{},
		dmRefused: map[string]bool{},
		roles:     map[string]map[string]bool{},
		posts:     map[string]*PostRecord{},
		hooks:     map[string]map[string]platform.Message{},
		images:    map[string]bool{},
		archived:  map[string]bool{},
		inputs:    map[string]chan platform.Input{},
		once:      map[string][]error{},
		always:    map[string]error{},
		calls:     map[string]int{},
	}
}

// Ports returns the platform bundle backed by p.
func (p *Platform) Ports() platform.Platform {
	return platform.Platform{Chat: p, Members: p, Discussion: p, Webhooks: p, Images: p}
}

// FailNext makes the next call of op return err. Calls queue in order.
func (p *Platform) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.once[op] = append(p.once[op], err)
}

// FailAlways makes every call of op return err until ClearFaults.
func (p *Platform) FailAlways(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.always[op] = err
}

func (p *Platform) ClearFaults() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.once = map[string][]error{}
	p.always = map[string]error{}
}

// Calls reports how many times op was invoked, failed calls included.
func (p *Platform) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// enter runs the BeforeCall hook, counts the call and returns any injected fault.
// On success it returns with p.mu held; the caller must unlock.
func (p *Platform) enter(ctx context.Context, op string) error {
	if p.BeforeCall != nil {
		p.BeforeCall(op)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.calls[op]++
	if q := p.once[op]; len(q) > 0 {
		p.once[op] = q[1:]
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", op, q[0])
	}
	if err := p.always[op]; err != nil {
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Platform) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s-%d", prefix, p.seq)
}

func (p *Platform) SendMessage(ctx context.Context, channelID string, msg platform.Message) (string, error) {
	if err := p.enter(ctx, OpSendMessage); err != nil {
		return "", err
	}
	defer p.mu.Unlock()
	ch := p.channelLocked(channelID)
	id := p.nextID("msg")
	ch.order = append(ch.order, id)
	ch.messages[id] = msg
	return id, nil
}

func (p *Platform) EditMessage(ctx context.Context, channelID, messageID string, msg platform.Message) error {
	if err := p.enter(ctx, OpEditMessage); err != nil {
		return err
	}
	defer p.mu.Unlock()
	ch, ok := p.channels[channelID]
	if !ok {
		return platform.ErrNotFound
	}
	if _, ok := ch.messages[messageID]; !ok {
		return platform.ErrNotFound
	}
	ch.messages[messageID] = msg
	return nil
}

func (p *Platform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := p.enter(ctx, OpDeleteMessage); err != nil {
		return err
	}
	defer p.mu.Unlock()
	ch, ok := p.channels[channelID]
	if !ok {
		return platform.ErrNotFound
	}
	if _, ok := ch.messages[messageID]; !ok {
		return platform.ErrNotFound
	}
	delete(ch.messages, messageID)
	return nil
}

func (p *Platform) CreateChannel(ctx context.Context, name, category string) (string, error) {
	if err := p.enter(ctx, OpCreateChannel); err != nil {
		return "", err
	}
	defer p.mu.Unlock()
	id := p.nextID("chan")
	p.channels[id] = &channel{id: id, name: name, category: category, messages: map[string]platform.Message{}}
	return id, nil
}

func (p *Platform) FindChannel(ctx context.Context, name, category string) (string, error) {
	if err := p.enter(ctx, OpFindChannel); err != nil {
		return "", err
	}
	defer p.mu.Unlock()
	for _, ch := range p.sortedChannelsLocked() {
		if strings.EqualFold(ch.name, name) && (category == "" || ch.category == category) {
			return ch.id, nil
		}
	}
	return "", platform.ErrNotFound
}

func (p *Platform) DeleteChannel(ctx context.Context, channelID string) error {
	if err := p.enter(ctx, OpDeleteChannel); err != nil {
		return err
	}
	defer p.mu.Unlock()
	if _, ok := p.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	delete(p.channels, channelID)
	return nil
}

func (p *Platform) ListChannels(ctx context.Context, category string) ([]platform.Channel, error) {
	if err := p.enter(ctx, OpListChannels); err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	var res []platform.Channel
	for _, ch := range p.sortedChannelsLocked() {
		if category == "" || ch.category == category {
			res = append(res, platform.Channel{ID: ch.id, Name: ch.name, Category: ch.category})
		}
	}
	return res, nil
}

func (p *Platform) WaitForInput(ctx context.Context, channelID, userID string, timeout time.Duration) (platform.Input, error) {
	if err := p.enter(ctx, OpWaitForInput); err != nil {
		return platform.Input{}, err
	}
	in := p.inputLocked(channelID, userID)
	p.mu.Unlock()
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case v := <-in:
		return v, nil
	case <-expired:
		return platform.Input{}, platform.ErrInputTimeout
	case <-ctx.Done():
		return platform.Input{}, ctx.Err()
	}
}

// ProvideInput queues a reply from userID in channelID for WaitForInput.
func (p *Platform) ProvideInput(channelID, userID string, in platform.Input) {
	p.mu.Lock()
	ch := p.inputLocked(channelID, userID)
	p.mu.Unlock()
	ch <- in
}

func (p *Platform) inputLocked(channelID, userID string) chan platform.Input {
	key := channelID + "|" + userID
	ch, ok := p.inputs[key]
	if !ok {
		ch = make(chan platform.Input, 8)
		p.inputs[key] = ch
	}
	return ch
}

func (p *Platform) channelLocked(id string) *channel {
	ch, ok := p.channels[id]
	if !ok {
		// Sending to an unknown ID models a fixed server channel such as the alerts feed.
		ch = &channel{id: id, name: id, messages: map[string]platform.Message{}}
		p.channels[id] = ch
	}
	return ch
}

func (p *Platform) sortedChannelsLocked() []*channel {
	res := make([]*channel, 0, len(p.channels))
	for _, ch := range p.channels {
		res = append(res, ch)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].id < res[j].id })
	return res
}

func (p *Platform) SendDirect(ctx context.Context, userID string, msg platform.Message) error {
	if err := p.enter(ctx, OpSendDirect); err != nil {
		return err
	}
	defer p.mu.Unlock()
	if p.dmRefused[userID] {
		return platform.ErrForbidden
	}
	p.dms[userID] = append(p.dms[userID], msg)
	return nil
}

func (p *Platform) AddRole(ctx context.Context, userID, roleID string) error {
	if err := p.enter(ctx, OpAddRole); err != nil {
		return err
	}
	defer p.mu.Unlock()
	if p.roles[userID] == nil {
		p.roles[userID] = map[string]bool{}
	}
	p.roles[userID][roleID] = true
	return nil
}

func (p *Platform) RemoveRole(ctx context.Context, userID, roleID string) error {
	if err := p.enter(ctx, OpRemoveRole); err != nil {
		return err
	}
	defer p.mu.Unlock()
	delete(p.roles[userID], roleID)
	return nil
}

func (p *Platform) HasRole(ctx context.Context, userID, roleID string) (bool, error) {
	if err := p.enter(ctx, OpHasRole); err != nil {
		return false, err
	}
	defer p.mu.Unlock()
	return p.roles[userID][roleID], nil
}

func (p *Platform) SubmitPost(ctx context.Context, title, imagePath string) (platform.Post, error) {
	if err := p.enter(ctx, OpSubmitPost); err != nil {
		return platform.Post{}, err
	}
	defer p.mu.Unlock()
	id := p.nextID("post")
	rec := &PostRecord{ID: id, Title: title, Image: imagePath, URL: "https://discussion.local/p/" + id}
	p.posts[id] = rec
	return platform.Post{ID: id, URL: rec.URL}, nil
}

func (p *Platform) Reply(ctx context.Context, postID, text string) (platform.Post, error) {
	if err := p.enter(ctx, OpReply); err != nil {
		return platform.Post{}, err
	}
	defer p.mu.Unlock()
	rec, ok := p.posts[postID]
	if !ok {
		return platform.Post{}, platform.ErrNotFound
	}
	rec.Replies = append(rec.Replies, text)
	id := p.nextID("comment")
	return platform.Post{ID: id, URL: rec.URL + "/c/" + id}, nil
}

func (p *Platform) SetLabel(ctx context.Context, postID, label string) error {
	if err := p.enter(ctx, OpSetLabel); err != nil {
		return err
	}
	defer p.mu.Unlock()
	rec, ok := p.posts[postID]
	if !ok {
		return platform.ErrNotFound
	}
	rec.Labels = append(rec.Labels, label)
	return nil
}

func (p *Platform) MarkSensitive(ctx context.Context, postID string) error {
	if err := p.enter(ctx, OpMarkSensitive); err != nil {
		return err
	}
	defer p.mu.Unlock()
	rec, ok := p.posts[postID]
	if !ok {
		return platform.ErrNotFound
	}
	rec.Sensitive = true
	return nil
}

func (p *Platform) Post(ctx context.Context, url string, msg platform.Message) (platform.Delivery, error) {
	if err := p.enter(ctx, OpWebhookPost); err != nil {
		return platform.Delivery{}, err
	}
	defer p.mu.Unlock()
	if p.hooks[url] == nil {
		p.hooks[url] = map[string]platform.Message{}
	}
	id := p.nextID("hookmsg")
	p.hooks[url][id] = msg
	return platform.Delivery{MessageID: id, JumpURL: "https://chat.local/webhook/" + id}, nil
}

func (p *Platform) Edit(ctx context.Context, url, messageID string, msg platform.Message) error {
	if err := p.enter(ctx, OpWebhookEdit); err != nil {
		return err
	}
	defer p.mu.Unlock()
	if _, ok := p.hooks[url][messageID]; !ok {
		return platform.ErrNotFound
	}
	p.hooks[url][messageID] = msg
	return nil
}

func (p *Platform) HasValidImage(ctx context.Context, carrier domain.Carrier) (bool, error) {
	if err := p.enter(ctx, OpHasImage); err != nil {
		return false, err
	}
	defer p.mu.Unlock()
	return p.images[carrier.ShortName], nil
}

func (p *Platform) StoreImage(ctx context.Context, carrier domain.Carrier, attachment string) error {
	if err := p.enter(ctx, OpStoreImage); err != nil {
		return err
	}
	defer p.mu.Unlock()
	if attachment == "" {
		return fmt.Errorf("store image for %s: no attachment", carrier.ShortName)
	}
	p.images[carrier.ShortName] = true
	return nil
}

func (p *Platform) Render(ctx context.Context, carrier domain.Carrier, params domain.MissionParams, size platform.ImageSize) (string, error) {
	if err := p.enter(ctx, OpRender); err != nil {
		return "", err
	}
	defer p.mu.Unlock()
	p.renders++
	return fmt.Sprintf("render/%s-%s-%s.png", carrier.ShortName, strings.ToLower(params.Commodity), size), nil
}

func (p *Platform) Archive(ctx context.Context, carrier domain.Carrier) error {
	if err := p.enter(ctx, OpArchive); err != nil {
		return err
	}
	defer p.mu.Unlock()
	if p.images[carrier.ShortName] {
		delete(p.images, carrier.ShortName)
		p.archived[carrier.ShortName] = true
	}
	return nil
}

// Seeding and inspection helpers.

// SetImage marks whether a carrier already has a usable background image.
func (p *Platform) SetImage(shortName string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images[shortName] = ok
}

func (p *Platform) Archived(shortName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.archived[shortName]
}

// Seed creates a channel without counting a call, as if it existed before startup.
func (p *Platform) Seed(name, category string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID("chan")
	p.channels[id] = &channel{id: id, name: name, category: category, messages: map[string]platform.Message{}}
	return id
}

func (p *Platform) HasChannel(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.channels[id]
	return ok
}

func (p *Platform) Message(channelID, messageID string) (platform.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[channelID]
	if !ok {
		return platform.Message{}, false
	}
	m, ok := ch.messages[messageID]
	return m, ok
}

// Messages returns the live messages of a channel in send order.
func (p *Platform) Messages(channelID string) []platform.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[channelID]
	if !ok {
		return nil
	}
	var res []platform.Message
	for _, id := range ch.order {
		if m, ok := ch.messages[id]; ok {
			res = append(res, m)
		}
	}
	return res
}

// RemoveMessage deletes a message behind the bot's back, as a moderator would.
func (p *Platform) RemoveMessage(channelID, messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channels[channelID]; ok {
		delete(ch.messages, messageID)
	}
}

func (p *Platform) DirectMessages(userID string) []platform.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platform.Message(nil), p.dms[userID]...)
}

// RefuseDirect makes SendDirect to userID fail with ErrForbidden.
func (p *Platform) RefuseDirect(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dmRefused[userID] = true
}

func (p *Platform) GrantRole(userID, roleID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roles[userID] == nil {
		p.roles[userID] = map[string]bool{}
	}
	p.roles[userID][roleID] = true
}

func (p *Platform) Roles(userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var res []string
	for r, ok := range p.roles[userID] {
		if ok {
			res = append(res, r)
		}
	}
	sort.Strings(res)
	return res
}

func (p *Platform) PostRecord(id string) (PostRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.posts[id]
	if !ok {
		return PostRecord{}, false
	}
	out := *rec
	out.Labels = append([]string(nil), rec.Labels...)
	out.Replies = append([]string(nil), rec.Replies...)
	return out, true
}

func (p *Platform) WebhookMessage(url, messageID string) (platform.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.hooks[url][messageID]
	return m, ok
}

func (p *Platform) WebhookMessageCount(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hooks[url])
}

func (p *Platform) Renders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renders
}

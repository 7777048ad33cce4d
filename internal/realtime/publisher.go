// Package realtime は課題一覧のリアルタイム配信を提供する。
//
// Publisherは課題一覧の不変スナップショットを購読者へ配信する。
// Syncerは再読み込み要求をまとめてリポジトリから一覧を取得し、Publisherへ渡す。
// PGListenerはPostgreSQLのLISTEN/NOTIFYで他ノードからの変更を検知し、Syncerへ再読み込みを要求する。
package realtime

import (
	"sync"
	"time"

	"github.com/hitoshi/issuetracker/internal/model"
)

// Snapshot はある時点の課題一覧。
// Issuesは配信先で共有されるため、受信側で変更してはならない。
type Snapshot struct {
	Version uint64
	Issues  []model.Issue
	TakenAt time.Time
}

// Publisher は最新のスナップショットを保持し、登録された購読者へ配信する。
// 遅い購読者には最新のスナップショットのみが届き、Publishはブロックしない。
type Publisher struct {
	mu      sync.Mutex
	current *Snapshot
	version uint64
	subs    map[*Subscription]struct{}
	closed  bool
	onCount func(n int)
	now     func() time.Time
}

// NewPublisher はPublisherの新しいインスタンスを生成する。
func NewPublisher() *Publisher {
	return &Publisher{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// OnSubscriberCountChange は購読者数が変化するたびに呼ばれる関数を登録する。
// 登録した関数はPublisherのロックを保持したまま呼ばれるため、Publisherを呼び出してはならない。
func (p *Publisher) OnSubscriberCountChange(fn func(n int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCount = fn
}

// Publish は課題一覧を新しいスナップショットとして全購読者へ配信する。
// issuesは複製して保持するため、呼び出し後に変更してよい。
// Close後の呼び出しは何もしない。
func (p *Publisher) Publish(issues []model.Issue) Snapshot {
	copied := make([]model.Issue, len(issues))
	copy(copied, issues)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		if p.current != nil {
			return *p.current
		}
		return Snapshot{}
	}

	p.version++
	snap := Snapshot{Version: p.version, Issues: copied, TakenAt: p.now()}
	p.current = &snap

	for sub := range p.subs {
		sub.deliver(snap)
	}
	return snap
}

// Current は最新のスナップショットを返す。まだ一度もPublishされていない場合はfalseを返す。
func (p *Publisher) Current() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Snapshot{}, false
	}
	return *p.current, true
}

// Subscribe は新しい購読を登録する。
// 最新のスナップショットがある場合は最初にそれが届く。
// Close後に呼び出した場合は既に閉じられた購読を返す。
func (p *Publisher) Subscribe() *Subscription {
	sub := &Subscription{p: p, ch: make(chan Snapshot, 1)}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		close(sub.ch)
		return sub
	}

	p.subs[sub] = struct{}{}
	if p.current != nil {
		sub.deliver(*p.current)
	}
	p.notifyCount()
	return sub
}

// SubscriberCount は現在の購読者数を返す。
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close は全ての購読を終了し、以降の配信を停止する。
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for sub := range p.subs {
		delete(p.subs, sub)
		close(sub.ch)
	}
	p.notifyCount()
}

func (p *Publisher) remove(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subs[sub]; !ok {
		return
	}
	delete(p.subs, sub)
	close(sub.ch)
	p.notifyCount()
}

// notifyCount はp.muを保持した状態で呼び出す。
func (p *Publisher) notifyCount() {
	if p.onCount != nil {
		p.onCount(len(p.subs))
	}
}

// Subscription は1つの購読を表す。
// 購読を終了するとチャネルは閉じられる。再開するには新たにSubscribeする。
type Subscription struct {
	p  *Publisher
	ch chan Snapshot
}

// C はスナップショットを受信するチャネルを返す。
func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

// Unsubscribe は購読を終了する。複数回呼び出してもよい。
func (s *Subscription) Unsubscribe() {
	s.p.remove(s)
}

// deliver は未受信のスナップショットを破棄して最新のものに置き換える。
// 送信はPublisherのロック下でのみ行われるため、破棄後の送信はブロックしない。
func (s *Subscription) deliver(snap Snapshot) {
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}

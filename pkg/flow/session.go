package flow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrNilUnit は nil の Unit が渡されたことを示します。
	ErrNilUnit = errors.New("unit が nil です")
	// ErrAlreadyTransferred は同じ Unit を二度ルーティングしようとしたことを示します。
	ErrAlreadyTransferred = errors.New("unit は既にルーティング済みです")
)

// WriteFunc は Unit の新しいボディを w に書き込みます。
type WriteFunc func(w io.Writer) error

// Session は、周囲のエンジンがステージに提供する Unit 操作の境界です。
type Session interface {
	// Write は fn が書き込んだ内容で Unit のボディを置き換えます。
	// fn がエラーを返した場合、ボディは変更されません。
	Write(unit *Unit, fn WriteFunc) error
	// Transfer は Unit を指定された出力チャネルへ送ります。
	Transfer(unit *Unit, rel Relationship) error
}

// ----------------------------------------------------------------------
// インメモリ実装
// ----------------------------------------------------------------------

// SessionOption は MemorySession の設定を行うための関数型です。
type SessionOption func(*MemorySession)

// WithWriterMiddleware は、ボディ書き込み時の io.Writer を差し替えます。
// I/O 障害の注入に利用します。
func WithWriterMiddleware(mw func(io.Writer) io.Writer) SessionOption {
	return func(s *MemorySession) {
		s.writerMiddleware = mw
	}
}

// MemorySession は、ルーティング結果をメモリ上に保持する Session 実装です。
// 複数の goroutine から同時に利用できます。
type MemorySession struct {
	mu               sync.Mutex
	routed           map[string]Relationship
	transferred      map[Relationship][]*Unit
	writerMiddleware func(io.Writer) io.Writer
}

// NewMemorySession は新しい MemorySession を生成します。
func NewMemorySession(opts ...SessionOption) *MemorySession {
	s := &MemorySession{
		routed:      make(map[string]Relationship),
		transferred: make(map[Relationship][]*Unit),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write はバッファに書き込みが完了した後でのみボディを差し替えます。
func (s *MemorySession) Write(unit *Unit, fn WriteFunc) error {
	if unit == nil {
		return ErrNilUnit
	}

	var buf bytes.Buffer
	var w io.Writer = &buf
	if s.writerMiddleware != nil {
		w = s.writerMiddleware(w)
	}

	if err := fn(w); err != nil {
		return fmt.Errorf("unit %s のボディ書き込みに失敗しました: %w", unit.ID(), err)
	}

	unit.replaceBody(buf.Bytes())
	return nil
}

// Transfer は Unit を出力チャネルに記録します。1つの Unit は一度だけ送れます。
func (s *MemorySession) Transfer(unit *Unit, rel Relationship) error {
	if unit == nil {
		return ErrNilUnit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.routed[unit.ID()]; ok {
		return fmt.Errorf("%w: unit %s -> %s (既に %s)", ErrAlreadyTransferred, unit.ID(), rel, prev)
	}
	s.routed[unit.ID()] = rel
	s.transferred[rel] = append(s.transferred[rel], unit)
	return nil
}

// Transferred は指定された出力チャネルに送られた Unit を送信順に返します。
func (s *MemorySession) Transferred(rel Relationship) []*Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Unit, len(s.transferred[rel]))
	copy(out, s.transferred[rel])
	return out
}

// RouteOf は Unit が送られた出力チャネルを返します。
func (s *MemorySession) RouteOf(unit *Unit) (Relationship, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.routed[unit.ID()]
	return rel, ok
}

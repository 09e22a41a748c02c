package session

import (
	"context"
	"fmt"
)

type session struct {
	id      string
	ctx     context.Context
	data    map[string]string
	store   IStore
	changed bool
}

// NewSession 建立 session，資料在第一次 Load 時才讀取
func NewSession(ctx context.Context, id string, store IStore) ISession {
	if ctx == nil {
		ctx = context.Background()
	}
	return &session{
		id:    id,
		ctx:   ctx,
		store: store,
	}
}

func (s *session) ID() string {
	return s.id
}

func (s *session) Load() error {
	const op = "session.Load"
	if s.data != nil {
		return nil
	}
	data, err := s.store.Load(s.ctx, s.id)
	if err != nil {
		return fmt.Errorf("[%s] Fail to load session, err=%w", op, err)
	}
	if data == nil {
		data = make(map[string]string)
	}
	s.data = data
	return nil
}

func (s *session) Get(key string) string {
	return s.data[key]
}

func (s *session) Pop(key string) string {
	v, ok := s.data[key]
	if ok {
		delete(s.data, key)
		s.changed = true
	}
	return v
}

func (s *session) Set(key, value string) {
	if s.data == nil {
		s.data = make(map[string]string)
	}
	s.data[key] = value
	s.changed = true
}

func (s *session) Delete(key string) {
	if _, ok := s.data[key]; ok {
		delete(s.data, key)
		s.changed = true
	}
}

func (s *session) Clear() {
	s.data = make(map[string]string)
	s.changed = true
}

// Save 只在資料有變動時寫回儲存層
func (s *session) Save() error {
	const op = "session.Save"
	if !s.changed {
		return nil
	}
	if err := s.store.Save(s.ctx, s.id, s.data); err != nil {
		return fmt.Errorf("[%s] Fail to save session, err=%w", op, err)
	}
	s.changed = false
	return nil
}

func (s *session) Destroy() error {
	const op = "session.Destroy"
	if err := s.store.Delete(s.ctx, s.id); err != nil {
		return fmt.Errorf("[%s] Fail to delete session, err=%w", op, err)
	}
	s.data = make(map[string]string)
	s.changed = false
	return nil
}

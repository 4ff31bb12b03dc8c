package flow_test

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-image-exact/pkg/flow"
)

// failingWriter は常に書き込みに失敗する io.Writer です。
type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestUnit(t *testing.T) {
	t.Run("new_unit_is_empty", func(t *testing.T) {
		u := flow.NewUnit()
		assert.NotEmpty(t, u.ID())
		assert.Empty(t, u.Attributes())
		assert.Nil(t, u.Body())
	})

	t.Run("attributes_are_copied", func(t *testing.T) {
		src := map[string]string{"url": "http://example.test/"}
		u := flow.NewUnitWithAttributes(src)
		src["url"] = "changed"

		v, ok := u.Attribute("url")
		assert.True(t, ok)
		assert.Equal(t, "http://example.test/", v)

		attrs := u.Attributes()
		attrs["url"] = "changed"
		v, _ = u.Attribute("url")
		assert.Equal(t, "http://example.test/", v)
	})

	t.Run("clone_keeps_content_with_new_id", func(t *testing.T) {
		s := flow.NewMemorySession()
		u := flow.NewUnitWithAttributes(map[string]string{"url": "a"})
		require.NoError(t, s.Write(u, func(w io.Writer) error {
			_, err := w.Write([]byte("body"))
			return err
		}))

		c := u.Clone()
		assert.NotEqual(t, u.ID(), c.ID())
		assert.Equal(t, u.Attributes(), c.Attributes())
		assert.Equal(t, u.Body(), c.Body())
	})
}

func TestMemorySession_Write(t *testing.T) {
	t.Run("replaces_body", func(t *testing.T) {
		s := flow.NewMemorySession()
		u := flow.NewUnit()
		require.NoError(t, s.Write(u, func(w io.Writer) error {
			_, err := w.Write([]byte("old"))
			return err
		}))
		require.NoError(t, s.Write(u, func(w io.Writer) error {
			_, err := w.Write([]byte("new"))
			return err
		}))
		assert.Equal(t, []byte("new"), u.Body())
	})

	t.Run("callback_error_leaves_body_untouched", func(t *testing.T) {
		s := flow.NewMemorySession()
		u := flow.NewUnit()
		require.NoError(t, s.Write(u, func(w io.Writer) error {
			_, err := w.Write([]byte("before"))
			return err
		}))

		err := s.Write(u, func(w io.Writer) error {
			_, _ = w.Write([]byte("partial"))
			return errors.New("boom")
		})
		require.Error(t, err)
		assert.Equal(t, []byte("before"), u.Body())
	})

	t.Run("writer_fault_is_reported", func(t *testing.T) {
		s := flow.NewMemorySession(flow.WithWriterMiddleware(func(io.Writer) io.Writer {
			return failingWriter{}
		}))
		u := flow.NewUnit()
		err := s.Write(u, func(w io.Writer) error {
			_, err := w.Write([]byte("[]"))
			return err
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Nil(t, u.Body())
	})

	t.Run("nil_unit", func(t *testing.T) {
		s := flow.NewMemorySession()
		err := s.Write(nil, func(io.Writer) error { return nil })
		assert.ErrorIs(t, err, flow.ErrNilUnit)
	})
}

func TestMemorySession_Transfer(t *testing.T) {
	t.Run("routes_once", func(t *testing.T) {
		s := flow.NewMemorySession()
		u := flow.NewUnit()

		require.NoError(t, s.Transfer(u, flow.Success))
		err := s.Transfer(u, flow.Failure)
		assert.ErrorIs(t, err, flow.ErrAlreadyTransferred)

		rel, ok := s.RouteOf(u)
		assert.True(t, ok)
		assert.Equal(t, flow.Success, rel)
		assert.Len(t, s.Transferred(flow.Success), 1)
		assert.Empty(t, s.Transferred(flow.Failure))
	})

	t.Run("concurrent_transfers", func(t *testing.T) {
		s := flow.NewMemorySession()
		const n = 50

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rel := flow.Success
				if i%2 == 1 {
					rel = flow.Failure
				}
				assert.NoError(t, s.Transfer(flow.NewUnit(), rel))
			}(i)
		}
		wg.Wait()

		assert.Len(t, s.Transferred(flow.Success), n/2)
		assert.Len(t, s.Transferred(flow.Failure), n/2)
	})
}

func TestPropertyDescriptor_Validate(t *testing.T) {
	required := flow.PropertyDescriptor{
		Name:       "url",
		Required:   true,
		Validators: []flow.Validator{flow.NonEmptyValidator},
	}
	optional := flow.PropertyDescriptor{
		Name:       "url",
		Validators: []flow.Validator{flow.NonEmptyValidator},
	}

	assert.NoError(t, required.Validate("http://example.test/"))
	assert.ErrorIs(t, required.Validate("   "), flow.ErrEmptyValue)
	assert.ErrorIs(t, required.Validate(""), flow.ErrEmptyValue)
	assert.NoError(t, optional.Validate(""))
}

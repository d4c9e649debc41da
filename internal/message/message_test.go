package message

import (
	"testing"
	"time"
)

// TestValidate tests the submission invariant.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{
			name:    "author and body",
			msg:     Message{Author: "ada", Body: "hello"},
			wantErr: nil,
		},
		{
			name: "author and attachment only",
			msg: Message{
				Author:     "ada",
				Attachment: &AttachmentDescriptor{Name: "cat.png", ContentType: "image/png"},
			},
			wantErr: nil,
		},
		{
			name:    "missing author",
			msg:     Message{Body: "hello"},
			wantErr: ErrMissingAuthor,
		},
		{
			name:    "whitespace-only author",
			msg:     Message{Author: "   \t", Body: "hello"},
			wantErr: ErrMissingAuthor,
		},
		{
			name:    "missing author with attachment",
			msg:     Message{Attachment: &AttachmentDescriptor{Name: "cat.png"}},
			wantErr: ErrMissingAuthor,
		},
		{
			name:    "empty submission",
			msg:     Message{Author: "ada"},
			wantErr: ErrEmptySubmission,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestSameAs tests de-duplication identity resolution.
func TestSameAs(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name string
		a, b Message
		want bool
	}{
		{
			name: "matching store ids",
			a:    Message{ID: "42", Body: "x"},
			b:    Message{ID: "42", Body: "y"},
			want: true,
		},
		{
			name: "differing store ids",
			a:    Message{ID: "42"},
			b:    Message{ID: "43"},
			want: false,
		},
		{
			name: "matching client ids without store ids",
			a:    Message{ClientID: "c1"},
			b:    Message{ClientID: "c1"},
			want: true,
		},
		{
			name: "fallback on author body timestamp",
			a:    Message{Author: "ada", Body: "hi", CreatedAt: now},
			b:    Message{Author: "ada", Body: "hi", CreatedAt: now},
			want: true,
		},
		{
			name: "fallback mismatch",
			a:    Message{Author: "ada", Body: "hi", CreatedAt: now},
			b:    Message{Author: "bob", Body: "hi", CreatedAt: now},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.SameAs(&tt.b); got != tt.want {
				t.Errorf("SameAs() = %v, want %v", got, tt.want)
			}
		})
	}
}

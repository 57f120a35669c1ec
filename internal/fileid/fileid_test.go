package fileid

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		isGroup   bool
		isChannel bool
		chatID    int64
		msgID     int64
		wantKind  PeerKind
	}{
		{"user", false, false, 777000, 42, PeerUser},
		{"group", true, false, 123456, 9001, PeerGroup},
		{"channel", false, true, 1234567890, 1, PeerChannel},
		{"megagroup", true, true, 55, 77, PeerChannel},
		{"min ids", false, false, 1, 1, PeerUser},
		{"max ids", false, true, 1<<32 - 1, 1<<32 - 1, PeerChannel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := Pack(tc.isGroup, tc.isChannel, tc.chatID, tc.msgID)
			kind, chatID, msgID, ok := Unpack(id)
			if !ok {
				t.Fatalf("Unpack(%d) not ok", id)
			}
			if kind != tc.wantKind {
				t.Fatalf("kind = %v, want %v", kind, tc.wantKind)
			}
			if chatID != tc.chatID || msgID != tc.msgID {
				t.Fatalf("got (%d, %d), want (%d, %d)", chatID, msgID, tc.chatID, tc.msgID)
			}
		})
	}
}

func TestPackTruncatesTo32Bits(t *testing.T) {
	t.Parallel()

	id := Pack(false, false, 1<<40|7, 1<<35|3)
	_, chatID, msgID, ok := Unpack(id)
	if !ok {
		t.Fatal("expected ok")
	}
	if chatID != 7 || msgID != 3 {
		t.Fatalf("got (%d, %d), want truncated (7, 3)", chatID, msgID)
	}
}

func TestUnpackRejectsZeroIDs(t *testing.T) {
	t.Parallel()

	if _, _, _, ok := Unpack(Pack(false, false, 0, 42)); ok {
		t.Fatal("zero chat id should not unpack")
	}
	if _, _, _, ok := Unpack(Pack(false, false, 42, 0)); ok {
		t.Fatal("zero message id should not unpack")
	}
	if _, _, _, ok := Unpack(0); ok {
		t.Fatal("zero id should not unpack")
	}
}

func TestUnpackKindPrecedence(t *testing.T) {
	t.Parallel()

	// The channel bit wins when both flags are set.
	kind, _, _, _ := Unpack(Pack(true, true, 5, 5))
	if kind != PeerChannel {
		t.Fatalf("kind = %v, want %v", kind, PeerChannel)
	}
}

package popup

import "github.com/xkilldash9x/rtsm-probe/internal/browser/probe"

// Profile describes one known transient dialog: how to notice it and how to
// clear it.
type Profile struct {
	Name string
	// Detect probes are tried before Markers; either kind is sufficient.
	Detect  probe.Set
	Markers []string
	Confirm probe.Set
}

// DuplicateLogin is the "account already signed in elsewhere" dialog shown
// when a login collides with a live session. Confirming disconnects the
// other session.
var DuplicateLogin = Profile{
	Name: "duplicate_login",
	Detect: probe.MustSet("duplicate_login",
		"text=해당 계정으로 이미 로그인 한 사용자가 있습니다",
		"text=이미 로그인 한 사용자가 있습니다",
		"text=이전 로그인 사용자의 접속을 끊고",
		"text=계속 진행하시겠습니까",
	),
	Markers: []string{
		"해당 계정으로 이미 로그인",
		"이미 로그인 한 사용자",
		"이전 로그인 사용자의 접속을 끊고",
		"already logged in",
	},
	Confirm: probe.MustSet("duplicate_login_confirm",
		`button:has-text("Confirm")`,
		`button:has-text("확인")`,
		`button:has-text("OK")`,
		`button:has-text("계속")`,
		`button:has-text("Continue")`,
	),
}

// ReleaseNotes is the "Version & Release" announcement that can cover the
// study list right after login.
var ReleaseNotes = Profile{
	Name: "release_notes",
	Detect: probe.MustSet("release_notes",
		`[role="dialog"]:has-text("Release")`,
		"text=Version & Release",
		"text=Release Note",
	),
	Markers: []string{
		"Version & Release",
		"Release Note",
	},
	Confirm: probe.MustSet("release_notes_close",
		`[role="dialog"] button[aria-label="close"]`,
		`[role="dialog"] button[aria-label="Close"]`,
		`button:has-text("Close")`,
		`button:has-text("닫기")`,
		`button:has-text("확인")`,
		`button:has-text("OK")`,
	),
}

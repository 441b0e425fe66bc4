// internal/rtsm/selectors.go
package rtsm

import (
	"regexp"

	"github.com/xkilldash9x/rtsm-probe/internal/browser/probe"
)

// Candidate sets for the RTSM screens. Order is preference; the first
// visible match wins.
var (
	EmailInput = probe.MustSet("email_input",
		`input[name="email"]`,
		`input[type="email"]`,
		`#email`,
	)
	PasswordInput = probe.MustSet("password_input",
		`input[name="password"]`,
		`input[type="password"]`,
		`#password`,
	)
	SubmitButton = probe.MustSet("login_submit",
		`button[type="submit"]`,
		`input[type="submit"]`,
		`button:has-text("로그인")`,
		`button:has-text("Login")`,
		`button:has-text("Sign In")`,
	)
	PostLoginMarkers = probe.MustSet("post_login",
		`[data-testid="user-menu"]`,
		`.user-menu`,
		`text=Dashboard`,
		`text=대시보드`,
		`text=Home`,
		`text=Study`,
	)
	UserMenu = probe.MustSet("user_menu",
		`[data-testid="user-menu"]`,
		`.user-menu`,
		`.css-unzqs5 button.GrButton:has(.GrIcon)`,
		`header button.GrButton:has(.GrButton-content)`,
	)
	LogoutButton = probe.MustSet("logout",
		`text=로그아웃`,
		`text=Logout`,
		`text=Sign Out`,
		`button:has-text("로그아웃")`,
		`button:has-text("Logout")`,
		`a:has-text("로그아웃")`,
		`a:has-text("Logout")`,
		`[role="menuitem"]:has-text("로그아웃")`,
		`[role="menuitem"]:has-text("Logout")`,
	)

	EmptyStudyList  = probe.MustSet("no_data", `text=No data is available`)
	StudyNameHeader = probe.MustSet("study_name_header", `text="Study Name"`)
	StudyName       = probe.MustSet("study_name", `text=RTSM_JK`)
	StudyLink       = probe.MustSet("study_link",
		`a:has-text("RTSM_JK_MVN")`,
		`a:has-text("RTSM_JK")`,
	)
	BackToHomeLink = probe.MustSet("back_to_home",
		`text=Back to Home`,
		`a:has-text("Back to Home")`,
	)
	StudyListSubtitle = probe.MustSet("study_list_subtitle",
		`text=View and select a study from your authorized list`,
	)
	ManageUserLink = probe.MustSet("manage_user",
		`a:has-text("Manage User")`,
		`text=Manage User`,
	)
	VersionLabel  = probe.MustSet("version", `text=Version`)
	HomeMenu      = probe.MustSet("home", `text=Home`)
	Pagination    = probe.MustSet("pagination", `text=rows`)
	OngoingTab    = probe.MustSet("ongoing_tab", `button:has-text("Ongoing")`, `text=Ongoing`)
	ClosedTab     = probe.MustSet("closed_tab", `button:has-text("Closed")`, `text=Closed`)
	UnlockedBadge = probe.MustSet("unlocked", `text=Unlocked`)
)

// Tallies reported by VerifyDashboard.
var (
	EnvironmentTypes = []string{"SANDBOX", "REAL", "BETA"}
	StatusTypes      = []string{"Unlocked", "Locked"}
	PhaseTypes       = []string{"1 & 2 상", "3 상", "관찰 연구", "연구용 임상시험", "사용 성적 조사"}
	Sponsors         = []string{"한미약품", "종근당", "셀트리온", "한국화이자"}
)

// Menu groups inspected on a study dashboard.
var (
	DashboardMenus = []string{"Subject", "IP Management", "Study Setup", "Manage User", "Dashboard"}
	IPMenus        = []string{"IP Delivery", "IP Inventory Management", "IP Accountability"}
	SetupMenus     = []string{"Randomization Settings", "IP Supply Settings"}
	ManageMenus    = []string{"Manage User", "Manage Role", "Manage Site", "Manage Depot"}
)

var (
	loginPageTitle = regexp.MustCompile(`(?i)maven|rtsm|clinical`)
	signInURL      = regexp.MustCompile(`(?i)login|sign-in|auth.*/sign-in`)
	userNumber     = regexp.MustCompile(`No\.\s+\d+`)
)

// textSet is a single-probe set matching text anywhere in an element.
func textSet(text string) probe.Set {
	return probe.Set{Name: text, Probes: []probe.Probe{{Kind: probe.Text, Text: text}}}
}

package scenario

import (
	"fmt"
	"sort"
	"time"
)

// Test ids and labels of the onboarding flow shared by the built-in scenarios.
const (
	TestIDOnboardingNext = "onboarding-next"
	TestIDOnboardingSkip = "onboarding-skip"
	TestIDSignInStart    = "sign-in-start"

	TextSignInHeading = "Sign in to Start Practicing"
)

// FixtureOnboarding walks from the landing page to the sign-in screen.
const FixtureOnboarding = "onboarding"

// Fixtures returns the built-in setup fixtures, keyed by name.
func Fixtures() map[string][]Step {
	return map[string][]Step{
		FixtureOnboarding: {
			Navigate("/", NavigateCommit),
			Click(ByTestID(TestIDOnboardingNext)),
			Click(ByTestID(TestIDOnboardingSkip)),
			Click(ByRole("button", "Sign in to Start")),
		},
	}
}

// Structural paths used by legacy generated scripts.
const (
	legacyNextXPath     = "html/body/div/div/footer/div/button"
	legacySkipXPath     = "html/body/div/div/header/button"
	legacySignInXPath   = "html/body/div/div/div/main/div/div/main/div/div/button"
	legacySignUpXPath   = "html/body/div/div/div/div/div/form/div[4]/button"
	legacyGuestXPath    = "html/body/div/div/div/div/div/div[3]/button"
	legacyFullNameXPath = "html/body/div/div/div/div/div/form/div/input"
	legacyEmailXPath    = "html/body/div/div/div/div/div/form/div[2]/input"
	legacyPassXPath     = "html/body/div/div/div/div/div/form/div[3]/div/input"
)

var builtins = []Scenario{
	{
		Name:        "sign-in-landing",
		Description: "Onboarding next, skip and sign-in lead to the sign-in screen.",
		Tags:        []string{"smoke", "auth"},
		Uses:        FixtureOnboarding,
		Expect:      []Condition{ExpectText(TextSignInHeading, 30*time.Second)},
	},
	{
		Name:        "sign-in-landing-structural",
		Description: "Same flow as sign-in-landing, located by the structural paths of the generated scripts.",
		Tags:        []string{"auth", "legacy"},
		Steps: []Step{
			Navigate("/", NavigateCommit),
			Click(ByXPath(legacyNextXPath)),
			Click(ByXPath(legacySkipXPath)),
			Click(ByXPath(legacySignInXPath)),
		},
		Expect: []Condition{ExpectText(TextSignInHeading, 30*time.Second)},
	},
	{
		Name:        "signup-mock-fallback",
		Description: "Signup form accepts input while the auth backend runs in mock mode.",
		Tags:        []string{"auth"},
		Uses:        FixtureOnboarding,
		Steps: []Step{
			Click(ByXPath(legacySignUpXPath)),
			Fill(ByXPath(legacyFullNameXPath), "Test User"),
			Fill(ByXPath(legacyEmailXPath), "testuser@example.com"),
			{Action: ActionFill, Target: ByXPath(legacyPassXPath), Value: "TestPassword123", Description: "password"},
		},
		Expect: []Condition{
			ExpectText(TextSignInHeading, 30*time.Second),
			ExpectText("Create a free account to practice Motivational Interviewing with AI-powered patient simulations", 30*time.Second),
			ExpectText("Free account includes 3 practice sessions per month", 30*time.Second),
		},
	},
	{
		Name:        "dashboard-history",
		Description: "Guest dashboard shows session statistics and history.",
		Tags:        []string{"dashboard"},
		Uses:        FixtureOnboarding,
		Steps: []Step{
			Click(ByXPath(legacyGuestXPath)),
			Click(ByRole("button", "Dashboard")),
			AssertVisible(ByTestID("stat-sessions")),
		},
		Expect: []Condition{
			ExpectText("Sessions completed", 10*time.Second),
			ExpectText("No practice sessions yet", 10*time.Second),
		},
	},
	{
		Name:        "navigation-routing",
		Description: "Bottom navigation reaches every main view.",
		Tags:        []string{"navigation", "smoke"},
		Uses:        FixtureOnboarding,
		Steps: []Step{
			Click(ByRole("button", "Continue as Guest")),
			ScrollBy(800),
			Scroll(ByRole("navigation", "Main")),
			Click(ByRole("button", "Practice")),
			WaitFor(ByRole("heading", "Practice")),
			Click(ByRole("button", "Reports")),
			WaitFor(ByRole("heading", "Reports")),
			Click(ByRole("button", "Library")),
			WaitFor(ByRole("heading", "Library")),
			Click(ByRole("button", "Settings")),
		},
		Expect: []Condition{
			ExpectElement(ByRole("heading", "Settings"), 10*time.Second),
			ExpectText("Navigation Successful", 10*time.Second),
		},
	},
}

// Builtins returns the built-in scenarios with setup fixtures resolved, sorted by name.
func Builtins() []Scenario {
	fixtures := Fixtures()
	out := make([]Scenario, 0, len(builtins))
	for _, sc := range builtins {
		resolved, err := sc.Resolve(fixtures)
		if err != nil {
			panic(fmt.Sprintf("built-in scenario %q: %v", sc.Name, err))
		}
		out = append(out, resolved)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Builtin returns the named built-in scenario.
func Builtin(name string) (Scenario, bool) {
	for _, sc := range Builtins() {
		if sc.Name == name {
			return sc, true
		}
	}
	return Scenario{}, false
}

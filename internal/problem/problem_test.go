package problem_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"cockpit-ssh-relay/internal/problem"
)

var _ = Describe("FromExitCode", func() {
	It("maps a clean exit to no problem", func() {
		Expect(problem.FromExitCode(0)).To(Equal(problem.None))
	})

	It("maps exit 1 to internal-error", func() {
		Expect(problem.FromExitCode(1)).To(Equal(problem.InternalError))
	})

	It("maps exit 2 to authentication-failed", func() {
		Expect(problem.FromExitCode(2)).To(Equal(problem.AuthenticationFailed))
	})

	It("maps exit 127 to no-cockpit", func() {
		Expect(problem.FromExitCode(127)).To(Equal(problem.NoCockpit))
	})

	It("maps exit 254 to disconnected", func() {
		Expect(problem.FromExitCode(254)).To(Equal(problem.Disconnected))
	})

	It("maps exit 255 to terminated", func() {
		Expect(problem.FromExitCode(255)).To(Equal(problem.Terminated))
	})

	It("falls back to internal-error for an unmapped code", func() {
		Expect(problem.FromExitCode(17)).To(Equal(problem.InternalError))
	})
})

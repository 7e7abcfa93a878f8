package match

import (
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rotisserie/eris"
)

// victoryEnv is the environment a victory condition is compiled against. Scores are of participants
// still in the match.
func victoryEnv(leader, runnerUp, participants, gemsRemaining, groupsCompleted int, elapsed float64) map[string]any {
	return map[string]any{
		"leader":          leader,
		"runnerUp":        runnerUp,
		"participants":    participants,
		"gemsRemaining":   gemsRemaining,
		"groupsCompleted": groupsCompleted,
		"elapsed":         elapsed,
	}
}

func compileVictory(condition string) (*vm.Program, error) {
	program, err := expr.Compile(condition, expr.Env(victoryEnv(0, 0, 0, 0, 0, 0)), expr.AsBool())
	if err != nil {
		return nil, eris.Wrap(err, "failed to compile victory condition")
	}
	return program, nil
}

// checkVictory ends the match early when the victory condition holds. Only runs during Play.
func (s *Session) checkVictory() {
	if s.victory == nil || s.state != StatePlay {
		return
	}

	scores := make([]int, 0, s.roster.Len())
	for _, p := range s.roster.Connected() {
		if !p.Dropped {
			scores = append(scores, p.Score)
		}
	}
	slices.SortFunc(scores, func(a, b int) int { return b - a })

	var leader, runnerUp int
	if len(scores) > 0 {
		leader = scores[0]
	}
	if len(scores) > 1 {
		runnerUp = scores[1]
	}

	env := victoryEnv(leader, runnerUp, len(scores), s.pool.Remaining(), s.pool.Completed(), s.Elapsed().Seconds())
	output, err := expr.Run(s.victory, env)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to evaluate victory condition")
		return
	}
	if won, ok := output.(bool); ok && won {
		_ = s.end(endVictory)
	}
}

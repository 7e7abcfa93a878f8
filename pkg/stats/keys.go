package stats

import (
	"fmt"
	"strconv"
)

// bestScoresKey is the sorted set of each participant's best score on a mission.
func bestScoresKey(prefix, missionID string) string {
	return fmt.Sprintf("%s:MISSION:%s:BEST", prefix, missionID)
}

// recentMatchesKey is the capped list of the most recent match records of a mission, newest first.
func recentMatchesKey(prefix, missionID string) string {
	return fmt.Sprintf("%s:MISSION:%s:RECENT", prefix, missionID)
}

// matchKey stores the full record of one match.
func matchKey(prefix, sessionID string, endedAt int64) string {
	return fmt.Sprintf("%s:MATCH:%s:%s", prefix, sessionID, strconv.FormatInt(endedAt, 10))
}

// achievementsKey is the set of achievements a participant has earned.
func achievementsKey(prefix, participantID string) string {
	return fmt.Sprintf("%s:ACHIEVEMENTS:%s", prefix, participantID)
}

func missionFinishedAchievement(level int) string {
	return "mission_finished:" + strconv.Itoa(level)
}

func parTimeAchievement(level int) string {
	return "par_time:" + strconv.Itoa(level)
}

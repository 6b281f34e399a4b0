package attendance

import "time"

// ResolveSchedule picks the schedule that applies to a teacher in a
// classroom on the given weekday. Schedules must not overlap; when they do
// the first match in iteration order wins and matches reports how many
// entries qualified so the caller can flag the data problem.
func ResolveSchedule(schedules []Schedule, teacherID, classroomID string, day time.Weekday) (s Schedule, matches int, err error) {
	for _, candidate := range schedules {
		if !candidate.Active || candidate.TeacherID != teacherID || candidate.ClassroomID != classroomID || candidate.DayOfWeek != day {
			continue
		}
		if matches == 0 {
			s = candidate
		}
		matches++
	}
	if matches == 0 {
		return Schedule{}, 0, ErrNoScheduleToday
	}
	return s, matches, nil
}

// Package content produces the coaching task texts delivered on each
// scheduled iteration.
package content

import (
	"context"
	"fmt"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
)

// Generator produces the task text for one iteration.
type Generator interface {
	IterationTask(ctx context.Context, sess *models.UserSession, seq int) (string, error)
}

// Rotating nudges appended to every delivered task.
var periodicReminders = []string{
	"Эта задача может быть сложной или не очень, но нам прямо сейчас надо сделать небольшое движение в этом направлении, что можно сделать прямо сейчас?",
	"Сейчас важно сделать хотя бы маленький шаг в направлении этой задачи. Что ты можешь сделать прямо сейчас?",
	"Давай сделаем небольшое движение к твоей цели. Что можно предпринять в данный момент?",
	"Пора действовать! Что ты можешь сделать прямо сейчас для продвижения к цели?",
	"Каждый шаг важен. Что ты можешь сделать в этом направлении прямо сейчас?",
	"Время для действий! Что можно предпринять для движения к цели?",
	"Даже маленький шаг имеет значение. Что ты можешь сделать сейчас?",
	"Пора двигаться вперед! Что можно сделать в направлении этой задачи?",
}

var staticTasks = []string{
	"Сделай одно небольшое действие, которое приближает тебя к цели.",
	"Выдели 10 минут и продвинься в самом важном для цели деле.",
	"Запиши один конкретный шаг к цели и выполни его.",
	"Убери одно препятствие, которое мешает двигаться к цели.",
	"Расскажи кому-нибудь о своей цели и о следующем шаге.",
	"Повтори своё фокус-утверждение и сделай действие в его духе.",
}

// Reminder returns the nudge for an iteration. Deterministic by
// sequence number so a re-sent iteration reads the same.
func Reminder(seq int) string {
	if seq < 1 {
		seq = 1
	}
	return periodicReminders[(seq-1)%len(periodicReminders)]
}

// StaticGenerator serves canned task texts. It is the fallback when no
// GPT key is configured and when a GPT call fails mid-delivery.
type StaticGenerator struct{}

func (StaticGenerator) IterationTask(ctx context.Context, sess *models.UserSession, seq int) (string, error) {
	if seq < 1 {
		seq = 1
	}
	task := staticTasks[(seq-1)%len(staticTasks)]
	if focus := sess.Profile.FocusStatement; focus != "" {
		return fmt.Sprintf("%s Помни о своём фокусе: «%s».", task, focus), nil
	}
	return task, nil
}

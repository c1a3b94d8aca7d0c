package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"waitlist_backend/internal/waitlist"
)

// Schedule задаёт расписания фоновых задач в формате cron с секундами.
type Schedule struct {
	Sweep     string
	Reminders string
	Close     string
}

// Planner запускает периодические задачи движка листа ожидания.
type Planner struct {
	engine  waitlist.Manager
	timeout time.Duration
}

func NewPlanner(engine waitlist.Manager) *Planner {
	return &Planner{engine: engine, timeout: time.Minute}
}

// ExpireOverdueEntries закрывает записи, не подтверждённые вовремя, и предлагает слоты следующим.
func (p *Planner) ExpireOverdueEntries() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	res, err := p.engine.ExpirationSweep(ctx)
	if err != nil {
		log.Println("Ошибка при проверке истёкших подтверждений:", err)
		return
	}
	for _, exp := range res.Expired {
		if exp.NextNotified != nil {
			log.Printf("Запись %d истекла, слот предложен записи %d", exp.Expired.ID, exp.NextNotified.ID)
		}
	}
	if res.Failures > 0 {
		log.Printf("Не удалось обработать истёкших записей: %d", res.Failures)
	}
}

// RemindPendingConfirmations напоминает о скором окончании окна подтверждения.
func (p *Planner) RemindPendingConfirmations() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	sent, err := p.engine.SendReminders(ctx)
	if err != nil {
		log.Println("Ошибка при отправке напоминаний:", err)
		return
	}
	if sent > 0 {
		log.Printf("Отправлено напоминаний: %d", sent)
	}
}

// CloseExpiredWaitingLists закрывает листы ожидания, время которых вышло.
func (p *Planner) CloseExpiredWaitingLists() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	closed, err := p.engine.CloseExpiredWaitingLists(ctx)
	if err != nil {
		log.Println("Ошибка при закрытии листов ожидания:", err)
		return
	}
	if closed > 0 {
		log.Printf("Закрыто листов ожидания: %d", closed)
	}
}

// Register добавляет задачи в планировщик.
func (p *Planner) Register(c *cron.Cron, s Schedule) error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"ExpireOverdueEntries", s.Sweep, p.ExpireOverdueEntries},
		{"RemindPendingConfirmations", s.Reminders, p.RemindPendingConfirmations},
		{"CloseExpiredWaitingLists", s.Close, p.CloseExpiredWaitingLists},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := c.AddFunc(job.spec, job.fn); err != nil {
			return fmt.Errorf("ошибка запуска cron-задачи %s: %w", job.name, err)
		}
	}
	return nil
}

// InitScheduler инициализирует и запускает планировщик cron-задач.
func InitScheduler(p *Planner, s Schedule) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if err := p.Register(c, s); err != nil {
		return nil, err
	}
	c.Start()
	log.Println("Cron-планировщик запущен.")
	return c, nil
}

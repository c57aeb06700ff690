package services

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"paper-pulse/models"
)

// Mehr Notizen pro Lauf speichern wir nicht; der Rest steht im Log.
const maxRunNotes = 20

// startJobRun legt die Laufzeile an. Scheitert das, läuft der Job trotzdem;
// die Ergebnisse gehen dann nur ins Log.
func startJobRun(db *gorm.DB, logger *zap.Logger, jobName string) *models.JobRun {
	run := &models.JobRun{
		JobName:   jobName,
		Status:    models.JobStatusRunning,
		StartedAt: time.Now(),
	}
	if err := db.Create(run).Error; err != nil {
		logger.Warn("Konnte JobRun nicht anlegen", zap.String("job", jobName), zap.Error(err))
		run.ID = 0
	}
	return run
}

// finishJobRun schreibt Zähler und Endstatus. Fehler hier dürfen die bereits
// berechneten Ergebnisse nicht überdecken, darum nur Logging.
func finishJobRun(db *gorm.DB, logger *zap.Logger, run *models.JobRun, status string, processed, created, updated, errored int, notes []string) {
	run.Status = status
	run.Processed = processed
	run.Created = created
	run.Updated = updated
	run.Errored = errored

	if len(notes) > maxRunNotes {
		notes = notes[:maxRunNotes]
	}
	if len(notes) > 0 {
		if raw, err := json.Marshal(notes); err == nil {
			run.Notes = raw
		}
	}

	now := time.Now()
	run.FinishedAt = &now

	if run.ID == 0 {
		logger.Warn("JobRun ohne Laufzeile beendet", zap.String("job", run.JobName), zap.String("status", status))
		return
	}
	if err := db.Save(run).Error; err != nil {
		logger.Warn("Konnte JobRun nicht abschließen", zap.String("job", run.JobName), zap.Error(err))
	}
}

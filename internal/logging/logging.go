/*
Nombre del archivo: logging.go
Descripcion: Envoltorio delgado sobre logrus para logging estructurado,
             en reemplazo de utils.LogJSON del maestro original. Expone
             un *logrus.Logger configurado con formato JSON y un helper
             para los mensajes "criticos", que deben llevar la ruta
             del job y el contenido de sus dos archivos de log.
*/

package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger with a JSON formatter, matching the
// machine-parseable log lines the teacher codebase emitted by hand.
func New(level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(level)
	return log
}

// Critical logs an operator-visible failure at Error level, tagged so it
// is easy to grep for the ALERT-equivalent the original master.py used.
// jobFile and the two log file contents are attached as fields so an
// operator can see the failing command's own output without opening
// either file by hand.
func Critical(log *logrus.Logger, msg, jobFile, logFileContents, slaveLogContents string) {
	log.WithFields(logrus.Fields{
		"alert":         true,
		"job_file":      jobFile,
		"log":           logFileContents,
		"slave_log":     slaveLogContents,
	}).Error(msg)
}

package i18n

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/velzar/velzar/internal/infra"
	"github.com/velzar/velzar/resources"
)

const DefaultLanguage = "en"

var state = struct {
	once         sync.Once
	translations map[string]map[string]string
}{}

func load() {
	state.translations = map[string]map[string]string{}
	content, err := resources.FS.ReadFile(infra.GetResourcesPath("i18n", "translations.yml"))
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load i18n")
		return
	}
	if err := yaml.Unmarshal(content, &state.translations); err != nil {
		log.WithField("error", err.Error()).Error("cant unmarshal i18n")
	}
}

// Get returns the translation of key for lang. English keys are their own translation.
func Get(key, lang string) string {
	if lang == "" || strings.EqualFold(lang, DefaultLanguage) {
		return key
	}
	state.once.Do(load)
	if res, ok := state.translations[key][strings.ToUpper(lang)]; ok && res != "" {
		return res
	}
	log.WithField("key", key).WithField("lang", lang).Trace("no translation")
	return key
}

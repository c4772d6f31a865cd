package seed

import (
	"log"

	"gorm.io/gorm"

	"github.com/qs3c/storyvoice_go_server/internal/model"
	"github.com/qs3c/storyvoice_go_server/internal/repository"
)

// defaultStories 内置故事目录，首次启动时写入
var defaultStories = []model.Story{
	{
		Title:     "Smok spod Wawelu",
		Language:  "pl",
		SortOrder: 1,
		Content: "Dawno, dawno temu, w jaskini pod wzgórzem wawelskim mieszkał smok. " +
			"Każdej nocy, gdy miasto zasypiało, smok liczył gwiazdy nad Wisłą i marzył " +
			"o przyjacielu, który nie bałby się jego wielkich skrzydeł.",
	},
	{
		Title:     "Księżycowy kot",
		Language:  "pl",
		SortOrder: 2,
		Content: "Na dachu starej kamienicy siedział kot, który znał drogę na księżyc. " +
			"Wystarczyło zamknąć oczy, policzyć do trzech i złapać go za ogon, " +
			"a srebrna drabina sama wyrastała z komina.",
	},
	{
		Title:     "Zasypianka o morzu",
		Language:  "pl",
		SortOrder: 3,
		Content: "Fale szeptały do brzegu swoją wieczorną kołysankę. Mała muszelka " +
			"słuchała ich uważnie, bo chciała nauczyć się śpiewać tak samo cicho " +
			"i spokojnie jak morze, które nigdy się nie spieszy.",
	},
}

// Stories 在故事表为空时写入内置目录
func Stories(db *gorm.DB) error {
	storyRepo := repository.NewStoryRepository(db)

	count, err := storyRepo.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for i := range defaultStories {
		story := defaultStories[i]
		if err := storyRepo.Create(&story); err != nil {
			return err
		}
	}
	log.Printf("Seeded %d stories", len(defaultStories))
	return nil
}

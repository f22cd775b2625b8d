// Package demo содержит стартовый каталог для локального запуска.
package demo

import "github.com/vladislavdragonenkov/storefront/internal/domain"

// Products возвращает демонстрационные товары витрины.
func Products() []domain.Product {
	return []domain.Product{
		{
			ID:          "prod-headphones",
			Name:        "Wireless Bluetooth headphones",
			PriceMinor:  129900,
			Image:       "/headphones-hero.jpg",
			Description: "Wireless headphones with active noise cancelling",
			Stock:       25,
		},
		{
			ID:          "prod-smartwatch",
			Name:        "Smart watch",
			PriceMinor:  299900,
			Image:       "/placeholder.svg",
			Description: "Health tracking and notifications on your wrist",
			Stock:       10,
		},
		{
			ID:          "prod-charger",
			Name:        "USB-C fast charger",
			PriceMinor:  59900,
			Image:       "/placeholder.svg",
			Description: "65W charger for laptops and phones",
			Stock:       40,
		},
		{
			ID:          "prod-case",
			Name:        "Protective phone case",
			PriceMinor:  39900,
			Image:       "/placeholder.svg",
			Description: "Shock-absorbing case with raised edges",
			Stock:       3,
		},
	}
}
